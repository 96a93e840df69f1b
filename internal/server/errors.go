package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
)

type errorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

// ErrorHandlingMiddleware translates engine errors into HTTP responses.
// Every processor/store error is mapped to a taxonomy kind before it
// reaches the wire; raw transport errors never do.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, intentdomain.ErrInvalidAmount),
		errors.Is(err, intentdomain.ErrInvalidCurrency),
		errors.Is(err, intentdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, intentdomain.ErrInvalidEvent),
		errors.Is(err, processordomain.ErrInvalidSignature),
		errors.Is(err, processordomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, intentdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:      "rate_limited",
			Message:   "too many requests",
			Retryable: true,
		}
	case errors.Is(err, processordomain.ErrProcessorRejected):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "processor_rejected",
			Message: "payment was declined",
		}
	case errors.Is(err, processordomain.ErrProcessorTransient),
		errors.Is(err, intentdomain.ErrVersionConflict):
		return http.StatusServiceUnavailable, errorPayload{
			Type:      "transient_error",
			Message:   "temporary failure, retry with the same idempotency key",
			Retryable: true,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
