package http

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/vending-service/internal/security"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware prints request/response metrics.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
		)
	}
}

// RateLimitMiddleware simple token bucket per IP.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	newLimiter := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), burst) }
	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		mu.Lock()
		lim, found := buckets[ip]
		if !found {
			lim = newLimiter()
			buckets[ip] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			abort(c, http.StatusTooManyRequests, "Too many requests.")
			return
		}
		c.Next()
	}
}

// HeaderSecretMiddleware requires header to equal want. An empty want
// disables the check.
func HeaderSecretMiddleware(header, want, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if want == "" {
			c.Next()
			return
		}
		got := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			abort(c, http.StatusUnauthorized, message)
			return
		}
		c.Next()
	}
}

// SignatureMiddleware authenticates the raw body with X-Signature and
// X-Timestamp. The body is restored for the handler. A nil verifier or one
// without a secret disables the check.
func SignatureMiddleware(v *security.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil || v.Secret == "" {
			c.Next()
			return
		}
		body, err := readBody(c)
		if err != nil {
			abort(c, http.StatusBadRequest, "Unable to read request body.")
			return
		}
		if err := v.Verify(body, c.GetHeader("X-Signature"), c.GetHeader("X-Timestamp")); err != nil {
			status, msg := statusFor(err)
			abort(c, status, msg)
			return
		}
		c.Next()
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
