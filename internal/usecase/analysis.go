package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hazardscan/internal/analyzer"
	"github.com/example/hazardscan/internal/dispatcher"
	"github.com/example/hazardscan/internal/logging"
	"github.com/example/hazardscan/internal/repository"
	"github.com/example/hazardscan/internal/storage"
)

// RecordRepository defines the persistence operations needed by the use case.
type RecordRepository interface {
	Create(ctx context.Context, record *repository.AnalysisRecord) error
	FindByID(ctx context.Context, id string) (*repository.AnalysisRecord, error)
	CountByStatus(ctx context.Context, ownerID string) ([]repository.StatusCount, error)
	CountCompletedByRisk(ctx context.Context, ownerID string) ([]repository.RiskCount, error)
	ListCompleted(ctx context.Context, ownerID string, page, pageSize int) (*repository.PaginatedRecords, error)
}

// Trigger is the dispatcher surface the use case drives for manual analysis.
type Trigger interface {
	ProcessOne(ctx context.Context, id string) error
	RetryFailed(ctx context.Context) (dispatcher.BatchReport, error)
}

// AnalysisUseCase encapsulates business logic for the analysis flow.
type AnalysisUseCase struct {
	records        RecordRepository
	cache          Cache
	artifacts      storage.ArtifactStore
	trigger        Trigger
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	resultTTL      time.Duration
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(records RecordRepository, cache Cache, artifacts storage.ArtifactStore, trigger Trigger, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		records:        records,
		cache:          cache,
		artifacts:      artifacts,
		trigger:        trigger,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		resultTTL:      5 * time.Minute,
	}
}

// StatusView is the caller-facing shape of a record's current state.
type StatusView struct {
	ID              string               `json:"id"`
	OriginalName    string               `json:"original_name,omitempty"`
	Status          repository.Status    `json:"status"`
	Detections      []analyzer.Detection `json:"detections,omitempty"`
	RiskLevel       string               `json:"risk_level,omitempty"`
	RiskInfo        *analyzer.LevelInfo  `json:"risk_info,omitempty"`
	RiskDescription string               `json:"risk_description,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	SubmittedAt     time.Time            `json:"submitted_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Stats aggregates an owner's records by status and completed risk level.
type Stats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByRiskLevel map[string]int64 `json:"by_risk_level"`
}

// ListPage is one page of completed assessments, newest first.
type ListPage struct {
	Results    []*StatusView `json:"results"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	Total      int64         `json:"total_items"`
	TotalPages int           `json:"total_pages"`
}

// SubmitImage validates the upload, persists the artifact, and creates the
// record in pending state. The assessment itself happens asynchronously.
func (uc *AnalysisUseCase) SubmitImage(ctx context.Context, ownerID, originalName string, data []byte) (*StatusView, error) {
	if !filetype.IsImage(data) {
		return nil, ErrNotAnImage
	}

	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_image", id)

	kind, err := filetype.Match(data)
	if err != nil {
		return nil, ErrNotAnImage
	}

	key := fmt.Sprintf("%s.%s", id, kind.Extension)
	location, err := uc.artifacts.Save(ctx, key, kind.MIME.Value, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		wrapped := logging.NewOperationError("usecase.save_artifact", id, err)
		opLogger.Error("failed to persist artifact", zap.Error(wrapped))
		return nil, wrapped
	}

	now := time.Now().UTC()
	record := &repository.AnalysisRecord{
		ID:               id,
		OwnerID:          ownerID,
		ArtifactLocation: location,
		OriginalName:     originalName,
		Status:           repository.StatusPending,
		SubmittedAt:      now,
		UpdatedAt:        now,
	}
	if err := uc.records.Create(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.create_record", id, err)
		opLogger.Error("failed to create record", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("artifact submitted", zap.String("owner_id", ownerID), zap.Int("bytes", len(data)))
	return uc.viewFromRecord(record), nil
}

// GetStatus returns the current state of one record, serving terminal results
// from the cache when possible. Ownership is enforced before anything is
// revealed about the record.
func (uc *AnalysisUseCase) GetStatus(ctx context.Context, ownerID, id string) (*StatusView, error) {
	cacheKey := statusCacheKey(id)
	if cached, err := uc.withRedisGet(ctx, id, "cache.get.status", cacheKey); err == nil {
		var record repository.AnalysisRecord
		if err := json.Unmarshal([]byte(cached), &record); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_status", id).Warn("failed to decode cached record", zap.Error(err))
		} else {
			if record.OwnerID != ownerID {
				return nil, ErrForbidden
			}
			return uc.viewFromRecord(&record), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_status", id).Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	if record.Status.Terminal() {
		if serialized, err := json.Marshal(record); err == nil {
			if err := uc.withRedisRetry(ctx, id, "cache.set.status", func() error {
				return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
			}); err != nil {
				logging.WithOperation(uc.logger, "usecase.get_status", id).Warn("failed to cache result", zap.Error(err))
			}
		}
	}

	return uc.viewFromRecord(record), nil
}

// GetStats aggregates an owner's records. Pure read-side aggregation.
func (uc *AnalysisUseCase) GetStats(ctx context.Context, ownerID string) (*Stats, error) {
	statusCounts, err := uc.records.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	riskCounts, err := uc.records.CountCompletedByRisk(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:    make(map[string]int64, 4),
		ByRiskLevel: make(map[string]int64, len(analyzer.Levels())),
	}
	for _, status := range []repository.Status{repository.StatusPending, repository.StatusProcessing, repository.StatusCompleted, repository.StatusFailed} {
		stats.ByStatus[string(status)] = 0
	}
	for _, level := range analyzer.Levels() {
		stats.ByRiskLevel[string(level)] = 0
	}

	for _, c := range statusCounts {
		stats.ByStatus[string(c.Status)] = c.Count
		stats.Total += c.Count
	}
	for _, c := range riskCounts {
		stats.ByRiskLevel[c.RiskLevel] = c.Count
	}
	return stats, nil
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListCompleted pages through an owner's completed assessments, newest first.
func (uc *AnalysisUseCase) ListCompleted(ctx context.Context, ownerID string, page, pageSize int) (*ListPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	paged, err := uc.records.ListCompleted(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, err
	}

	results := make([]*StatusView, 0, len(paged.Records))
	for _, record := range paged.Records {
		results = append(results, uc.viewFromRecord(record))
	}
	return &ListPage{
		Results:    results,
		Page:       paged.Page,
		PageSize:   paged.PageSize,
		Total:      paged.Total,
		TotalPages: paged.TotalPages,
	}, nil
}

// TriggerAnalysis starts a manual reanalysis of one record, bypassing the
// schedule. Returns ErrConflict when the record is already mid-flight.
func (uc *AnalysisUseCase) TriggerAnalysis(ctx context.Context, ownerID, id string) error {
	record, err := uc.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if record.OwnerID != ownerID {
		return ErrForbidden
	}

	// Drop the cached terminal state before claiming so a concurrent read
	// cannot serve it once reanalysis is underway.
	if err := uc.cache.Del(ctx, statusCacheKey(id)); err != nil {
		logging.WithOperation(uc.logger, "usecase.trigger_analysis", id).Warn("failed to invalidate cache", zap.Error(err))
	}

	if err := uc.trigger.ProcessOne(ctx, id); err != nil {
		if errors.Is(err, dispatcher.ErrAlreadyProcessing) {
			return ErrConflict
		}
		return err
	}

	// A read racing the claim may have re-cached the old row in between.
	if err := uc.cache.Del(ctx, statusCacheKey(id)); err != nil {
		logging.WithOperation(uc.logger, "usecase.trigger_analysis", id).Warn("failed to invalidate cache", zap.Error(err))
	}

	logging.WithOperation(uc.logger, "usecase.trigger_analysis", id).Info("manual analysis started", zap.String("owner_id", ownerID))
	return nil
}

// RetryFailedAnalyses re-runs analysis for failed records. Explicit, audited
// action; never part of the periodic schedule.
func (uc *AnalysisUseCase) RetryFailedAnalyses(ctx context.Context) (dispatcher.BatchReport, error) {
	report, err := uc.trigger.RetryFailed(ctx)
	if err != nil {
		return report, err
	}
	uc.logger.Info("failed analyses retried",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (uc *AnalysisUseCase) viewFromRecord(record *repository.AnalysisRecord) *StatusView {
	view := &StatusView{
		ID:           record.ID,
		OriginalName: record.OriginalName,
		Status:       record.Status,
		ErrorMessage: record.ErrorMessage,
		SubmittedAt:  record.SubmittedAt,
		UpdatedAt:    record.UpdatedAt,
	}

	if record.Status == repository.StatusCompleted {
		view.RiskLevel = record.RiskLevel
		view.RiskDescription = record.RiskDescription
		info := analyzer.InfoForLevel(analyzer.Level(record.RiskLevel))
		view.RiskInfo = &info

		detections, err := record.ParsedDetections()
		if err != nil {
			logging.WithOperation(uc.logger, "usecase.view_record", record.ID).Warn("failed to decode detections", zap.Error(err))
		} else {
			view.Detections = detections
		}
	}
	return view
}

func statusCacheKey(id string) string {
	return fmt.Sprintf("analysis:%s", id)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, recordID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, recordID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, recordID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, recordID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
