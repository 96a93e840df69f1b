package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	intentrepo "github.com/smallbiznis/payflow/internal/intent/repository"
	intentservice "github.com/smallbiznis/payflow/internal/intent/service"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	createCalls int
	getCalls    int
	createFn    func(req processordomain.CreateIntentRequest) (*processordomain.Intent, error)
	getFn       func(providerIntentID string) (*processordomain.Intent, error)
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, req processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
	f.createCalls++
	if f.createFn != nil {
		return f.createFn(req)
	}
	return &processordomain.Intent{
		ID:           "pi_1",
		Status:       "requires_payment_method",
		ClientSecret: "pi_1_secret_abc",
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeProcessor) GetIntent(ctx context.Context, providerIntentID string) (*processordomain.Intent, error) {
	f.getCalls++
	if f.getFn != nil {
		return f.getFn(providerIntentID)
	}
	return nil, processordomain.ErrProcessorTransient
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&intentdomain.IntentRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// conflictingRepo injects version conflicts on the first writes, as if a
// concurrent writer kept winning the race.
type conflictingRepo struct {
	intentdomain.Repository
	conflicts   int
	updateCalls int
}

func (r *conflictingRepo) UpdateWithVersion(ctx context.Context, db *gorm.DB, record *intentdomain.IntentRecord, expectedVersion int64) error {
	r.updateCalls++
	if r.conflicts > 0 {
		r.conflicts--
		return intentdomain.ErrVersionConflict
	}
	return r.Repository.UpdateWithVersion(ctx, db, record, expectedVersion)
}

func newTestService(t *testing.T, db *gorm.DB, proc processordomain.Processor) *intentservice.Service {
	t.Helper()
	return newTestServiceWithRepo(t, db, proc, intentrepo.Provide())
}

func newTestServiceWithRepo(t *testing.T, db *gorm.DB, proc processordomain.Processor, repo intentdomain.Repository) *intentservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return intentservice.NewService(intentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repo,
		Processor: proc,
	})
}

func TestCreateIntentIssuesOneProcessorCall(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	proc := &fakeProcessor{}
	svc := newTestService(t, db, proc)

	input := intentdomain.CreateIntentInput{
		IdempotencyKey: "k1",
		Amount:         5000,
		Currency:       "usd",
	}

	first, err := svc.CreateIntent(ctx, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != intentdomain.StatusRequiresAction {
		t.Fatalf("status = %s, want %s", first.Status, intentdomain.StatusRequiresAction)
	}
	if first.ProviderIntentID == nil || *first.ProviderIntentID != "pi_1" {
		t.Fatalf("provider intent id = %v, want pi_1", first.ProviderIntentID)
	}
	if first.Currency != "USD" {
		t.Fatalf("currency = %s, want USD", first.Currency)
	}
	if first.ClientSecret == nil || *first.ClientSecret != "pi_1_secret_abc" {
		t.Fatalf("client secret not stored")
	}

	second, err := svc.CreateIntent(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned different record: %s vs %s", second.ID, first.ID)
	}
	if proc.createCalls != 1 {
		t.Fatalf("processor called %d times, want 1", proc.createCalls)
	}
}

func TestCreateIntentValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	proc := &fakeProcessor{}
	svc := newTestService(t, db, proc)

	tests := []struct {
		name    string
		input   intentdomain.CreateIntentInput
		wantErr error
	}{
		{
			name:    "empty idempotency key",
			input:   intentdomain.CreateIntentInput{IdempotencyKey: "  ", Amount: 100, Currency: "USD"},
			wantErr: intentdomain.ErrInvalidIdempotencyKey,
		},
		{
			name:    "zero amount",
			input:   intentdomain.CreateIntentInput{IdempotencyKey: "k", Amount: 0, Currency: "USD"},
			wantErr: intentdomain.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			input:   intentdomain.CreateIntentInput{IdempotencyKey: "k", Amount: -5, Currency: "USD"},
			wantErr: intentdomain.ErrInvalidAmount,
		},
		{
			name:    "unknown currency",
			input:   intentdomain.CreateIntentInput{IdempotencyKey: "k", Amount: 100, Currency: "ZZZ"},
			wantErr: intentdomain.ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateIntent(ctx, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if proc.createCalls != 0 {
		t.Fatalf("processor called %d times for invalid input", proc.createCalls)
	}
}

func TestCreateIntentProcessorRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	proc := &fakeProcessor{
		createFn: func(processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
			return nil, fmt.Errorf("%w: card_declined", processordomain.ErrProcessorRejected)
		},
	}
	svc := newTestService(t, db, proc)

	_, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_rejected",
		Amount:         2500,
		Currency:       "EUR",
	})
	if !errors.Is(err, processordomain.ErrProcessorRejected) {
		t.Fatalf("err = %v, want rejected", err)
	}

	var record intentdomain.IntentRecord
	if err := db.Where("idempotency_key = ?", "k_rejected").First(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != intentdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.FailureReason == nil || *record.FailureReason != "card_declined" {
		t.Fatalf("failure reason = %v, want card_declined", record.FailureReason)
	}
}

func TestCreateIntentProcessorTransientLeavesRecordCreated(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	proc := &fakeProcessor{
		createFn: func(processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
			return nil, fmt.Errorf("%w: connection reset", processordomain.ErrProcessorTransient)
		},
	}
	svc := newTestService(t, db, proc)

	_, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_transient",
		Amount:         900,
		Currency:       "GBP",
	})
	if !errors.Is(err, processordomain.ErrProcessorTransient) {
		t.Fatalf("err = %v, want transient", err)
	}

	var record intentdomain.IntentRecord
	if err := db.Where("idempotency_key = ?", "k_transient").First(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != intentdomain.StatusCreated {
		t.Fatalf("status = %s, want created for sweep pickup", record.Status)
	}
	if record.ProviderIntentID != nil {
		t.Fatalf("provider intent id should be empty after transient failure")
	}
}

func TestCreateIntentRetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := &conflictingRepo{Repository: intentrepo.Provide(), conflicts: 2}
	svc := newTestServiceWithRepo(t, db, &fakeProcessor{}, repo)

	record, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_conflict_retry",
		Amount:         5000,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if repo.updateCalls != 3 {
		t.Fatalf("update attempts = %d, want 3", repo.updateCalls)
	}
	if record.ProviderIntentID == nil || *record.ProviderIntentID != "pi_1" {
		t.Fatalf("provider intent id not committed after retries: %v", record.ProviderIntentID)
	}

	var stored intentdomain.IntentRecord
	if err := db.Where("idempotency_key = ?", "k_conflict_retry").First(&stored).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if stored.ProviderIntentID == nil || stored.Status != intentdomain.StatusRequiresAction {
		t.Fatalf("row not committed: %+v", stored)
	}
}

func TestCreateIntentSurfacesVersionConflictAfterBoundedRetries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := &conflictingRepo{Repository: intentrepo.Provide(), conflicts: 100}
	svc := newTestServiceWithRepo(t, db, &fakeProcessor{}, repo)

	_, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_conflict_give_up",
		Amount:         5000,
		Currency:       "USD",
	})
	if !errors.Is(err, intentdomain.ErrVersionConflict) {
		t.Fatalf("err = %v, want version conflict", err)
	}
	if repo.updateCalls != 3 {
		t.Fatalf("update attempts = %d, want bounded at 3", repo.updateCalls)
	}
}

func TestCreateIntentCommitsAfterCallerCancellation(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := &fakeProcessor{}
	proc.createFn = func(processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
		// The caller goes away while the remote call is in flight.
		cancel()
		return &processordomain.Intent{
			ID:           "pi_detached",
			Status:       "processing",
			ClientSecret: "pi_detached_secret",
			CreatedAt:    time.Now().UTC(),
		}, nil
	}
	svc := newTestService(t, db, proc)

	record, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_canceled",
		Amount:         5000,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("create after cancellation: %v", err)
	}
	if record.ProviderIntentID == nil || *record.ProviderIntentID != "pi_detached" {
		t.Fatalf("provider intent id = %v", record.ProviderIntentID)
	}

	var stored intentdomain.IntentRecord
	if err := db.Where("idempotency_key = ?", "k_canceled").First(&stored).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if stored.ProviderIntentID == nil || *stored.ProviderIntentID != "pi_detached" {
		t.Fatalf("remote result not committed: %+v", stored)
	}
	if stored.Status != intentdomain.StatusProcessing {
		t.Fatalf("status = %s, want processing", stored.Status)
	}
}

func TestCreateIntentReplayRetriesAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	proc := &fakeProcessor{}
	proc.createFn = func(processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
		if proc.createCalls == 1 {
			return nil, fmt.Errorf("%w: connection reset", processordomain.ErrProcessorTransient)
		}
		return &processordomain.Intent{
			ID:           "pi_retry",
			Status:       "requires_payment_method",
			ClientSecret: "pi_retry_secret",
			CreatedAt:    time.Now().UTC(),
		}, nil
	}
	svc := newTestService(t, db, proc)

	input := intentdomain.CreateIntentInput{
		IdempotencyKey: "k_retry",
		Amount:         5000,
		Currency:       "USD",
	}

	if _, err := svc.CreateIntent(ctx, input); !errors.Is(err, processordomain.ErrProcessorTransient) {
		t.Fatalf("first attempt err = %v, want transient", err)
	}

	record, err := svc.CreateIntent(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if record.ProviderIntentID == nil || *record.ProviderIntentID != "pi_retry" {
		t.Fatalf("replay did not complete the remote call: %v", record.ProviderIntentID)
	}
	if record.ClientSecret == nil || *record.ClientSecret != "pi_retry_secret" {
		t.Fatalf("client secret missing after replay retry")
	}
	if proc.createCalls != 2 {
		t.Fatalf("processor called %d times, want 2", proc.createCalls)
	}
}

func TestGetIntent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	proc := &fakeProcessor{}
	svc := newTestService(t, db, proc)

	created, err := svc.CreateIntent(ctx, intentdomain.CreateIntentInput{
		IdempotencyKey: "k_get",
		Amount:         1200,
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetIntent(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != created.ID || got.Amount != 1200 {
		t.Fatalf("got %+v, want record %s", got, created.ID)
	}

	if _, err := svc.GetIntent(ctx, snowflake.ID(123456789)); !errors.Is(err, intentdomain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
