package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProcessorTransient covers network failures and timeouts: the
	// caller may retry with the same idempotency key.
	ErrProcessorTransient = errors.New("processor_transient_error")
	// ErrProcessorRejected means the processor declined the request;
	// retrying with the same parameters will not help.
	ErrProcessorRejected = errors.New("processor_rejected")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

// CreateIntentRequest is the remote creation call input.
type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the processor's view of a payment intent.
type Intent struct {
	ID           string
	Status       string
	ClientSecret string
	CreatedAt    time.Time
}

// Processor is the remote payment processor boundary.
type Processor interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, providerIntentID string) (*Intent, error)
}

// Event is the raw decoded webhook envelope before it is translated
// into the intent domain.
type Event struct {
	ID               string
	Type             string
	ProviderIntentID string
	Status           string
	OccurredAt       time.Time
}

// WebhookDecoder verifies a raw webhook payload against its signature
// header and decodes the envelope. Verification always runs on the raw
// bytes, never on a parsed form.
type WebhookDecoder interface {
	DecodeAndVerify(payload []byte, signatureHeader string) (*Event, error)
}
