package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/intent/domain"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxVersionRetries bounds the optimistic-concurrency retry loop before
// the conflict is surfaced as a transient error.
const maxVersionRetries = 3

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Processor processordomain.Processor
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	processor processordomain.Processor
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("intent.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		processor: p.Processor,
		metrics:   p.Metrics,
	}
}

// CreateIntent creates one durable payment intent per idempotency key.
// Replays of a completed key return the stored result without touching
// the processor; replays of a key stuck before the remote call landed
// retry it under the same idempotency key.
func (s *Service) CreateIntent(ctx context.Context, input domain.CreateIntentInput) (*domain.IntentRecord, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))

	existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replay(ctx, existing, input)
	}

	now := time.Now().UTC()
	record := &domain.IntentRecord{
		ID:             s.genID.Generate(),
		IdempotencyKey: input.IdempotencyKey,
		Amount:         input.Amount,
		Currency:       input.Currency,
		Status:         domain.StatusCreated,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The insert reserves the key before the remote call; a concurrent
	// duplicate request loses the race and reads our row instead of
	// issuing its own processor call.
	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		winner, err := s.repo.FindByIdempotencyKey(ctx, s.db, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, domain.ErrNotFound
		}
		return s.replay(ctx, winner, input)
	}

	return s.completeRemote(ctx, record, input.Metadata)
}

// replay serves a repeated request for an already-reserved key. A key
// whose processor call never landed (still created with no provider id)
// retries the remote call instead of handing back a stuck record; the
// idempotency key forwarded to the processor makes the retry safe.
func (s *Service) replay(ctx context.Context, record *domain.IntentRecord, input domain.CreateIntentInput) (*domain.IntentRecord, error) {
	if record.Status == domain.StatusCreated && record.ProviderIntentID == nil {
		s.log.Info("retrying processor call for stuck intent",
			zap.String("intent_id", record.ID.String()),
		)
		return s.completeRemote(ctx, record, input.Metadata)
	}
	s.recordCreate("replayed")
	return record, nil
}

// completeRemote issues the processor call and commits its result. The
// remote side effect must be committed locally even if the caller goes
// away mid-flight, so everything here runs detached from the caller's
// cancellation. The processor client carries its own bounded timeout.
func (s *Service) completeRemote(ctx context.Context, record *domain.IntentRecord, metadata map[string]string) (*domain.IntentRecord, error) {
	detached := context.WithoutCancel(ctx)

	intent, err := s.processor.CreateIntent(detached, processordomain.CreateIntentRequest{
		Amount:         record.Amount,
		Currency:       record.Currency,
		Metadata:       metadata,
		IdempotencyKey: record.IdempotencyKey,
	})
	if err != nil {
		return s.handleProcessorFailure(detached, record, err)
	}

	record.ProviderIntentID = &intent.ID
	record.ClientSecret = &intent.ClientSecret
	record.Status = domain.StatusFromProvider(intent.Status)
	if err := s.commit(detached, record); err != nil {
		return nil, err
	}

	s.recordCreate("created")
	s.log.Info("payment intent created",
		zap.String("intent_id", record.ID.String()),
		zap.String("provider_intent_id", intent.ID),
		zap.String("status", string(record.Status)),
		zap.Int64("amount", record.Amount),
		zap.String("currency", record.Currency),
	)
	return record, nil
}

func (s *Service) GetIntent(ctx context.Context, id snowflake.ID) (*domain.IntentRecord, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func validateInput(input domain.CreateIntentInput) error {
	if input.IdempotencyKey == "" || len(input.IdempotencyKey) > 255 {
		return domain.ErrInvalidIdempotencyKey
	}
	if input.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !domain.ValidCurrency(input.Currency) {
		return domain.ErrInvalidCurrency
	}
	return nil
}

func (s *Service) handleProcessorFailure(ctx context.Context, record *domain.IntentRecord, callErr error) (*domain.IntentRecord, error) {
	if errors.Is(callErr, processordomain.ErrProcessorRejected) {
		reason := strings.TrimSpace(strings.TrimPrefix(callErr.Error(), processordomain.ErrProcessorRejected.Error()+": "))
		record.Status = domain.StatusFailed
		record.FailureReason = &reason
		if err := s.commit(ctx, record); err != nil {
			return nil, err
		}
		s.recordCreate("rejected")
		s.log.Warn("processor rejected intent",
			zap.String("intent_id", record.ID.String()),
			zap.String("reason", reason),
		)
		return nil, callErr
	}

	// Transient failure: the row stays in created so a caller retry with
	// the same key, or the reconciliation sweep, can resolve it.
	s.recordCreate("transient")
	s.log.Warn("processor call failed",
		zap.String("intent_id", record.ID.String()),
		zap.Error(callErr),
	)
	return nil, fmt.Errorf("%w: create intent", processordomain.ErrProcessorTransient)
}

// commit writes the record under its version guard, retrying the
// read-compute-write cycle on conflict. Only provider identity, status
// and failure fields are recomputed; amount and currency are immutable.
func (s *Service) commit(ctx context.Context, record *domain.IntentRecord) error {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err := s.repo.UpdateWithVersion(ctx, s.db, record, record.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		lastErr = err

		current, readErr := s.repo.FindByID(ctx, s.db, record.ID)
		if readErr != nil {
			return readErr
		}
		if current == nil {
			return domain.ErrNotFound
		}
		// A webhook may have landed between our read and write; never
		// regress a status the reconciler already advanced.
		record.Version = current.Version
		record.LastEventID = current.LastEventID
		record.LastEventAt = current.LastEventAt
		if current.Status.Terminal() || statusRank(current.Status) > statusRank(record.Status) {
			record.Status = current.Status
		}
	}
	return lastErr
}

func statusRank(s domain.Status) int {
	switch s {
	case domain.StatusCreated:
		return 0
	case domain.StatusRequiresAction:
		return 1
	case domain.StatusProcessing:
		return 2
	default:
		return 3
	}
}

func (s *Service) recordCreate(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordIntentCreate(outcome)
	}
}
