package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/payflow/internal/intent/domain"
	"go.uber.org/zap"
)

// ApplyEvent reconciles one verified webhook event into the local record.
// Delivery is at-least-once and unordered, so the method is idempotent:
// repeats return duplicate, out-of-order deliveries return stale, and the
// status transition plus the dedup marker land in a single version-guarded
// write. Partial application is structurally impossible.
func (s *Service) ApplyEvent(ctx context.Context, event *domain.WebhookEvent) (domain.ApplyResult, error) {
	if event == nil {
		return "", domain.ErrInvalidEvent
	}
	event.ID = strings.TrimSpace(event.ID)
	event.ProviderIntentID = strings.TrimSpace(event.ProviderIntentID)
	if event.ID == "" || event.ProviderIntentID == "" || event.OccurredAt.IsZero() {
		return "", domain.ErrInvalidEvent
	}

	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("provider_intent_id", event.ProviderIntentID),
	)

	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		record, err := s.repo.FindByProviderIntentID(ctx, s.db, event.ProviderIntentID)
		if err != nil {
			return "", err
		}
		if record == nil {
			// The intent was never created through this system, or the
			// creation response has not been persisted yet. Ack so the
			// processor stops redelivering; the sweep picks up the rest.
			log.Info("webhook event has no local record")
			s.recordApply(domain.ResultRecordNotFound)
			return domain.ResultRecordNotFound, nil
		}

		if record.LastEventID != nil && *record.LastEventID == event.ID {
			s.recordApply(domain.ResultDuplicate)
			return domain.ResultDuplicate, nil
		}
		if record.LastEventAt != nil && !event.OccurredAt.After(*record.LastEventAt) {
			log.Info("webhook event older than applied state, ignoring")
			s.recordApply(domain.ResultStale)
			return domain.ResultStale, nil
		}
		if record.Status.Terminal() {
			log.Warn("webhook event for terminal intent, ignoring",
				zap.String("status", string(record.Status)),
			)
			s.recordApply(domain.ResultNoop)
			return domain.ResultNoop, nil
		}

		next, ok := domain.Transition(record.Status, event.Type)
		if !ok {
			s.recordApply(domain.ResultNoop)
			return domain.ResultNoop, nil
		}

		previous := record.Status
		occurredAt := event.OccurredAt.UTC()
		record.Status = next
		record.LastEventID = &event.ID
		record.LastEventAt = &occurredAt

		err = s.repo.UpdateWithVersion(ctx, s.db, record, record.Version)
		if err == nil {
			log.Info("webhook event applied",
				zap.String("from", string(previous)),
				zap.String("to", string(next)),
			)
			s.recordApply(domain.ResultApplied)
			return domain.ResultApplied, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return "", err
		}
		lastErr = err
	}

	log.Warn("webhook apply gave up after version conflicts")
	return "", lastErr
}

func (s *Service) recordApply(result domain.ApplyResult) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(string(result))
	}
}
