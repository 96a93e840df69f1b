package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/intent/domain"
	intentservice "github.com/smallbiznis/payflow/internal/intent/service"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonAbandoned = "abandoned_before_processor_create"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	IntentSvc *intentservice.Service
	Processor processordomain.Processor
	Clock     clock.Clock
	Holder    *ConfigHolder
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Sweeper resolves intents stuck in created: the creation transaction
// reserved the key but the processor call never committed a result.
// It applies the processor's authoritative state through the same
// version-guarded path the webhook reconciler uses.
type Sweeper struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	intentSvc *intentservice.Service
	processor processordomain.Processor
	clock     clock.Clock
	holder    *ConfigHolder
	metrics   *obsmetrics.Metrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:        p.DB,
		log:       p.Log.Named("sweeper"),
		repo:      p.Repo,
		intentSvc: p.IntentSvc,
		processor: p.Processor,
		clock:     p.Clock,
		holder:    p.Holder,
		metrics:   p.Metrics,
	}
}

// RunForever sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) RunForever(ctx context.Context) {
	for {
		interval := s.holder.Current().RunInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := s.SweepOnce(ctx); err != nil {
			s.log.Warn("sweep failed", zap.Error(err))
		}
	}
}

// SweepOnce processes one batch of stuck created records.
func (s *Sweeper) SweepOnce(parent context.Context) error {
	cfg := s.holder.Current()
	ctx, cancel := context.WithTimeout(parent, cfg.JobTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.RecordSweepRun()
	}

	cutoff := s.clock.Now().Add(-cfg.StuckThreshold)
	records, err := s.repo.ListStuckCreated(ctx, s.db, cutoff, cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stuck intents: %w", err)
	}

	for i := range records {
		record := records[i]
		outcome, err := s.resolve(ctx, &record)
		if err != nil {
			s.log.Warn("could not resolve stuck intent",
				zap.String("intent_id", record.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordSweepResolved(outcome)
		}
	}
	return nil
}

func (s *Sweeper) resolve(ctx context.Context, record *domain.IntentRecord) (string, error) {
	if record.ProviderIntentID == nil || *record.ProviderIntentID == "" {
		return s.markAbandoned(ctx, record)
	}

	intent, err := s.processor.GetIntent(ctx, *record.ProviderIntentID)
	if err != nil {
		return "", err
	}

	// Ordinal is the intent's creation time at the processor: the
	// earliest possible ordinal, so genuine later events are never
	// shadowed by the sweep.
	occurredAt := intent.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = record.CreatedAt
	}

	result, err := s.intentSvc.ApplyEvent(ctx, &domain.WebhookEvent{
		ID:               fmt.Sprintf("sweep_%s_%d", intent.ID, record.Version),
		Type:             eventTypeForStatus(intent.Status),
		ProviderIntentID: intent.ID,
		Status:           intent.Status,
		OccurredAt:       occurredAt,
	})
	if err != nil {
		return "", err
	}

	s.log.Info("stuck intent reconciled",
		zap.String("intent_id", record.ID.String()),
		zap.String("provider_intent_id", intent.ID),
		zap.String("provider_status", intent.Status),
		zap.String("result", string(result)),
	)
	return string(result), nil
}

// markAbandoned fails a record that never made it to the processor. A
// version conflict means someone else progressed the record; leave it.
func (s *Sweeper) markAbandoned(ctx context.Context, record *domain.IntentRecord) (string, error) {
	reason := reasonAbandoned
	record.Status = domain.StatusFailed
	record.FailureReason = &reason
	if err := s.repo.UpdateWithVersion(ctx, s.db, record, record.Version); err != nil {
		return "", err
	}
	s.log.Info("abandoned intent marked failed",
		zap.String("intent_id", record.ID.String()),
	)
	return "abandoned", nil
}

func eventTypeForStatus(providerStatus string) string {
	switch domain.StatusFromProvider(providerStatus) {
	case domain.StatusRequiresAction:
		return domain.EventTypeRequiresAction
	case domain.StatusProcessing:
		return domain.EventTypeProcessing
	case domain.StatusSucceeded:
		return domain.EventTypeSucceeded
	case domain.StatusCanceled:
		return domain.EventTypeCanceled
	default:
		return "payment_intent.created"
	}
}
