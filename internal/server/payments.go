package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	"go.uber.org/zap"
)

type createPaymentRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type paymentResponse struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	ProviderIntentID *string    `json:"provider_intent_id,omitempty"`
	ClientSecret     *string    `json:"client_secret,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toPaymentResponse(record *intentdomain.IntentRecord, includeSecret bool) paymentResponse {
	resp := paymentResponse{
		ID:               record.ID.String(),
		Status:           string(record.Status),
		Amount:           record.Amount,
		Currency:         record.Currency,
		ProviderIntentID: record.ProviderIntentID,
		FailureReason:    record.FailureReason,
		LastEventAt:      record.LastEventAt,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
	if includeSecret {
		resp.ClientSecret = record.ClientSecret
	}
	return resp
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: malformed body", ErrInvalidRequest))
		return
	}

	allowed, err := s.createLimiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		// Limiter failure must not block payment creation.
		s.log.Warn("rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}

	record, err := s.intentSvc.CreateIntent(c.Request.Context(), intentdomain.CreateIntentInput{
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Replays of an already-created key return the same record; the secret
	// is handed out again so the caller can resume confirmation.
	c.JSON(http.StatusCreated, toPaymentResponse(record, true))
}

func (s *Server) GetPayment(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, intentdomain.ErrNotFound)
		return
	}

	record, err := s.intentSvc.GetIntent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(record, false))
}
