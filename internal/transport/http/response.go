package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/vending-service/internal/payment"
	"github.com/richardliu001/vending-service/internal/repo"
	"github.com/richardliu001/vending-service/internal/security"
	"github.com/richardliu001/vending-service/internal/service"
	"github.com/richardliu001/vending-service/internal/vendor"
)

// envelope is the body shape of every JSON response.
type envelope struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, envelope{Status: true, Message: message, Data: data})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Status: false, Message: message})
}

// fail writes err using the error-to-status table.
func fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	body := envelope{Status: false, Message: msg}
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		body.Errors = map[string][]string{ve.Field: {ve.Error()}}
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, vendor.ErrUnsupportedProvider):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, vendor.ErrUnsupportedOperation):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, security.ErrSignatureMissing):
		return http.StatusBadRequest, "Missing signature or timestamp."
	case errors.Is(err, security.ErrTimestampInvalid), errors.Is(err, security.ErrTimestampExpired):
		return http.StatusForbidden, "Request timestamp is invalid or expired."
	case errors.Is(err, security.ErrSignatureInvalid):
		return http.StatusForbidden, "Invalid signature."
	case errors.Is(err, repo.ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found."
	case errors.Is(err, payment.ErrVerificationFailed), errors.Is(err, payment.ErrChargeNotSuccessful):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, payment.ErrInitializeFailed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, vendor.ErrVendorUnavailable):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, service.ErrWebhookMalformed):
		return http.StatusBadRequest, "Malformed payload."
	}
	return http.StatusInternalServerError, "Internal server error."
}
