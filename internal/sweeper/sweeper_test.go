package sweeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	intentrepo "github.com/smallbiznis/payflow/internal/intent/repository"
	intentservice "github.com/smallbiznis/payflow/internal/intent/service"
	processordomain "github.com/smallbiznis/payflow/internal/processor/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	getCalls int
	getFn    func(providerIntentID string) (*processordomain.Intent, error)
}

func (f *fakeProcessor) CreateIntent(ctx context.Context, req processordomain.CreateIntentRequest) (*processordomain.Intent, error) {
	return nil, processordomain.ErrProcessorTransient
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

	dsn := fmt.Sprintf("file:sweepdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&intentdomain.IntentRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestSweeper(t *testing.T, db *gorm.DB, proc processordomain.Processor, clk clock.Clock) *Sweeper {
	t.Helper()

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	repo := intentrepo.Provide()
	intentSvc := intentservice.NewService(intentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repo,
		Processor: proc,
	})

	holder := &ConfigHolder{}
	holder.current.Store(DefaultConfig())

	return New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Repo:      repo,
		IntentSvc: intentSvc,
		Processor: proc,
		Clock:     clk,
		Holder:    holder,
	})
}

func seedStuckIntent(t *testing.T, db *gorm.DB, key string, providerIntentID *string, createdAt time.Time) snowflake.ID {
	t.Helper()

	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	record := intentdomain.IntentRecord{
		ID:               node.Generate(),
		IdempotencyKey:   key,
		ProviderIntentID: providerIntentID,
		Amount:           5000,
		Currency:         "USD",
		Status:           intentdomain.StatusCreated,
		Version:          1,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return record.ID
}

func TestSweepMarksAbandonedIntentFailed(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now().UTC())
	proc := &fakeProcessor{}
	sweeper := newTestSweeper(t, db, proc, clk)

	id := seedStuckIntent(t, db, "k_abandoned", nil, clk.Now().Add(-time.Hour))

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var record intentdomain.IntentRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != intentdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", record.Status)
	}
	if record.FailureReason == nil || *record.FailureReason != reasonAbandoned {
		t.Fatalf("failure reason = %v", record.FailureReason)
	}
	if proc.getCalls != 0 {
		t.Fatalf("processor queried for an intent that never reached it")
	}
}

func TestSweepReconcilesWithProcessorState(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now().UTC())
	providerID := "pi_sweep"
	proc := &fakeProcessor{
		getFn: func(id string) (*processordomain.Intent, error) {
			if id != providerID {
				t.Fatalf("queried wrong intent: %s", id)
			}
			return &processordomain.Intent{
				ID:        providerID,
				Status:    "succeeded",
				CreatedAt: clk.Now().Add(-time.Hour),
			}, nil
		},
	}
	sweeper := newTestSweeper(t, db, proc, clk)

	id := seedStuckIntent(t, db, "k_sweep", &providerID, clk.Now().Add(-time.Hour))

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var record intentdomain.IntentRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != intentdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", record.Status)
	}
	if record.LastEventID == nil {
		t.Fatalf("dedup marker not set by reconciliation")
	}
}

func TestSweepSkipsRecentRecords(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now().UTC())
	proc := &fakeProcessor{}
	sweeper := newTestSweeper(t, db, proc, clk)

	id := seedStuckIntent(t, db, "k_recent", nil, clk.Now().Add(-time.Minute))

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var record intentdomain.IntentRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Status != intentdomain.StatusCreated {
		t.Fatalf("recent record mutated to %s", record.Status)
	}

	// Past the threshold the same record is picked up.
	clk.Advance(time.Hour)
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if record.Status != intentdomain.StatusFailed {
		t.Fatalf("status = %s, want failed after threshold", record.Status)
	}
}

func TestSweepConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.RunInterval != time.Minute || cfg.StuckThreshold != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BatchSize != 50 || cfg.JobTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	tuned := Config{RunInterval: 5 * time.Second, BatchSize: 10}.withDefaults()
	if tuned.RunInterval != 5*time.Second || tuned.BatchSize != 10 {
		t.Fatalf("explicit values overridden: %+v", tuned)
	}
	if tuned.JobTimeout != 30*time.Second {
		t.Fatalf("missing value not defaulted: %+v", tuned)
	}
}
