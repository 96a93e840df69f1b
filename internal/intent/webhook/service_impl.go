package webhook

import (
	"context"

	"github.com/smallbiznis/payflow/internal/intent/domain"
	intentservice "github.com/smallbiznis/payflow/internal/intent/service"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	IntentSvc *intentservice.Service
	Decoder   processordomain.WebhookDecoder
}

type Service struct {
	log       *zap.Logger
	intentSvc *intentservice.Service
	decoder   processordomain.WebhookDecoder
}

func NewService(p Params) domain.IngestService {
	return &Service{
		log:       p.Log.Named("intent.webhook"),
		intentSvc: p.IntentSvc,
		decoder:   p.Decoder,
	}
}

// IngestWebhook verifies the signature over the raw payload bytes, decodes
// the envelope and hands it to the reconciler. A verification failure
// never reaches the reconciler; redelivery is the processor's job.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, signatureHeader string) (domain.ApplyResult, error) {
	event, err := s.decoder.DecodeAndVerify(payload, signatureHeader)
	if err != nil {
		// Security-relevant: someone posted a payload we cannot attribute
		// to the processor.
		s.log.Warn("webhook verification failed", zap.Error(err))
		return "", err
	}

	return s.intentSvc.ApplyEvent(ctx, &domain.WebhookEvent{
		ID:               event.ID,
		Type:             event.Type,
		ProviderIntentID: event.ProviderIntentID,
		Status:           event.Status,
		OccurredAt:       event.OccurredAt,
		RawPayload:       payload,
	})
}
