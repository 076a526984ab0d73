package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var phonePattern = regexp.MustCompile(`^[0-9+\-\s()]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	RegisterFieldNames(v)
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// RegisterFieldNames makes v report fields by their json name.
func RegisterFieldNames(v *validator.Validate) {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationFailure turns validator errors into a *ValidationError for the
// first offending field. Any other error is returned as is.
func ValidationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return invalid(fe.Field(), reasonFor(fe))
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "phone":
		return "must be a valid phone number"
	}
	return "is invalid"
}

// check runs the struct tags on v, then the hand-written rules.
func check(v interface{}, rules ...error) error {
	if err := validate.Struct(v); err != nil {
		return ValidationFailure(err)
	}
	for _, err := range rules {
		if err != nil {
			return err
		}
	}
	return nil
}

func minAmount(field string, v, min decimal.Decimal, inclusive bool) error {
	if inclusive && v.LessThan(min) {
		return invalid(field, "must be at least "+min.String())
	}
	if !inclusive && v.LessThanOrEqual(min) {
		return invalid(field, "must be greater than "+min.String())
	}
	return nil
}
