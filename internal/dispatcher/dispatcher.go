package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/hazardscan/internal/analyzer"
	"github.com/example/hazardscan/internal/logging"
	"github.com/example/hazardscan/internal/repository"
)

// ErrAlreadyProcessing is returned by ProcessOne when the record is mid-flight.
var ErrAlreadyProcessing = errors.New("record is already being processed")

// RecordStore defines the persistence operations needed by the dispatcher.
type RecordStore interface {
	FindByID(ctx context.Context, id string) (*repository.AnalysisRecord, error)
	FindPending(ctx context.Context, limit int) ([]*repository.AnalysisRecord, error)
	FindFailed(ctx context.Context, limit int) ([]*repository.AnalysisRecord, error)
	Claim(ctx context.Context, id string) (bool, error)
	ClaimForRetry(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id, detections, riskLevel, riskDescription string) error
	Fail(ctx context.Context, id, errorMessage string) error
	ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// BatchReport summarizes one dispatcher pass. Used for observability only;
// the dispatcher holds no cross-pass state.
type BatchReport struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Dispatcher claims batches of pending records and drives them to a terminal
// state through the analyzer.
type Dispatcher struct {
	store           RecordStore
	analyzer        analyzer.Analyzer
	logger          *zap.Logger
	batchSize       int
	retryLimit      int
	analysisTimeout time.Duration
	stuckAfter      time.Duration
	now             func() time.Time
	background      sync.WaitGroup
}

// Config bounds the dispatcher's per-pass work.
type Config struct {
	BatchSize       int
	RetryLimit      int
	AnalysisTimeout time.Duration
	StuckAfter      time.Duration
}

// New constructs a dispatcher with the given bounds. Zero config fields fall
// back to defaults.
func New(store RecordStore, az analyzer.Analyzer, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 10
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 30 * time.Second
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	return &Dispatcher{
		store:           store,
		analyzer:        az,
		logger:          logger.Named("dispatcher"),
		batchSize:       cfg.BatchSize,
		retryLimit:      cfg.RetryLimit,
		analysisTimeout: cfg.AnalysisTimeout,
		stuckAfter:      cfg.StuckAfter,
		now:             time.Now,
	}
}

// RunOnce claims up to the batch size of pending records, oldest submission
// first, and analyzes them. Claims for the whole batch complete before any
// analyzer call begins; records another pass claimed first are skipped. A
// store failure aborts the pass, leaving unclaimed records pending.
func (d *Dispatcher) RunOnce(ctx context.Context) (BatchReport, error) {
	records, err := d.store.FindPending(ctx, d.batchSize)
	if err != nil {
		return BatchReport{}, logging.NewOperationError("dispatcher.find_pending", "", err)
	}
	if len(records) == 0 {
		return BatchReport{}, nil
	}

	claimed := make([]*repository.AnalysisRecord, 0, len(records))
	for _, record := range records {
		won, err := d.store.Claim(ctx, record.ID)
		if err != nil {
			return d.analyzeBatch(ctx, claimed), logging.NewOperationError("dispatcher.claim", record.ID, err)
		}
		if !won {
			d.logger.Debug("record claimed elsewhere", zap.String("record_id", record.ID))
			continue
		}
		claimed = append(claimed, record)
	}

	report := d.analyzeBatch(ctx, claimed)
	d.logger.Info("dispatch pass finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// RetryFailed re-runs analysis for failed records. This pass is only invoked
// explicitly, never by the periodic schedule.
func (d *Dispatcher) RetryFailed(ctx context.Context) (BatchReport, error) {
	records, err := d.store.FindFailed(ctx, d.retryLimit)
	if err != nil {
		return BatchReport{}, logging.NewOperationError("dispatcher.find_failed", "", err)
	}
	if len(records) == 0 {
		return BatchReport{}, nil
	}

	claimed := make([]*repository.AnalysisRecord, 0, len(records))
	for _, record := range records {
		won, err := d.store.ClaimForRetry(ctx, record.ID)
		if err != nil {
			return d.analyzeBatch(ctx, claimed), logging.NewOperationError("dispatcher.claim_for_retry", record.ID, err)
		}
		if !won {
			continue
		}
		claimed = append(claimed, record)
	}

	report := d.analyzeBatch(ctx, claimed)
	d.logger.Info("retry pass finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// ReclaimStuck returns processing records with no progress for longer than the
// stuck cutoff back to pending. Closes the gap where a crash mid-analysis
// would strand a record in a live-looking state forever.
func (d *Dispatcher) ReclaimStuck(ctx context.Context) (int64, error) {
	cutoff := d.now().Add(-d.stuckAfter)
	reclaimed, err := d.store.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return 0, logging.NewOperationError("dispatcher.reclaim_stuck", "", err)
	}
	if reclaimed > 0 {
		d.logger.Warn("reclaimed stuck records", zap.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// ProcessOne runs the claim/analyze/finalize protocol for a single record,
// bypassing the schedule. The claim happens before returning so the caller
// learns about a conflict immediately; the analysis itself continues in the
// background. Returns ErrAlreadyProcessing when the record is mid-flight.
func (d *Dispatcher) ProcessOne(ctx context.Context, id string) error {
	record, err := d.store.FindByID(ctx, id)
	if err != nil {
		return err
	}

	won, err := d.store.ClaimForRetry(ctx, id)
	if err != nil {
		return logging.NewOperationError("dispatcher.claim_for_retry", id, err)
	}
	if !won {
		return ErrAlreadyProcessing
	}

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.analyzeRecord(context.Background(), record)
	}()
	return nil
}

// Wait blocks until background single-record analyses have finished. Called
// on shutdown so in-flight work is finalized rather than stranded.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

// analyzeBatch fans the claimed records out to one goroutine each, bounded by
// the batch size. Every record reaches a terminal state independently.
func (d *Dispatcher) analyzeBatch(ctx context.Context, records []*repository.AnalysisRecord) BatchReport {
	report := BatchReport{Attempted: len(records)}
	if len(records) == 0 {
		return report
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, record := range records {
		wg.Add(1)
		go func(record *repository.AnalysisRecord) {
			defer wg.Done()
			ok := d.analyzeRecord(ctx, record)
			mu.Lock()
			if ok {
				report.Succeeded++
			} else {
				report.Failed++
			}
			mu.Unlock()
		}(record)
	}
	wg.Wait()

	return report
}

// analyzeRecord drives one already-claimed record to a terminal state. The
// analyzer call is bounded by the analysis timeout; the finalizing write uses
// the parent context so a timed-out analysis can still be recorded as failed.
func (d *Dispatcher) analyzeRecord(ctx context.Context, record *repository.AnalysisRecord) bool {
	opLogger := logging.WithOperation(d.logger, "dispatcher.analyze_record", record.ID)

	analysisCtx, cancel := context.WithTimeout(ctx, d.analysisTimeout)
	result, err := d.analyzer.Analyze(analysisCtx, record.ArtifactLocation)
	cancel()

	if err != nil {
		opLogger.Warn("analysis failed", zap.Error(err))
		if failErr := d.store.Fail(ctx, record.ID, err.Error()); failErr != nil {
			opLogger.Error("failed to record analysis failure", zap.Error(failErr))
		}
		return false
	}

	detections, err := repository.EncodeDetections(result.Detections)
	if err != nil {
		opLogger.Error("failed to encode detections", zap.Error(err))
		if failErr := d.store.Fail(ctx, record.ID, "internal: result encoding failed"); failErr != nil {
			opLogger.Error("failed to record analysis failure", zap.Error(failErr))
		}
		return false
	}

	if err := d.store.Complete(ctx, record.ID, detections, string(result.RiskLevel), result.RiskDescription); err != nil {
		opLogger.Error("failed to record analysis result", zap.Error(err))
		return false
	}

	opLogger.Info("analysis completed",
		zap.String("risk_level", string(result.RiskLevel)),
		zap.Int("detections", len(result.Detections)),
	)
	return true
}
