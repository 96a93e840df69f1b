package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes caps the payload read so an oversized body cannot
// exhaust memory before signature verification runs.
const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.ingestSvc.IngestWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Events for unknown records are acknowledged too: the provider should
	// not retry something we will never be able to attach.
	if result == intentdomain.ResultRecordNotFound {
		s.log.Warn("webhook for unknown intent acknowledged",
			zap.String("result", string(result)),
		)
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "result": string(result)})
}
