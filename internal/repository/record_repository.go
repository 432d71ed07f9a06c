package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hazardscan/internal/logging"
)

// ErrRecordNotFound is returned when an id resolves to no record.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// RecordRepository provides persistence APIs for analysis records. All status
// transitions go through conditional updates so that concurrent dispatcher
// passes can never claim the same record twice.
type RecordRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRecordRepository creates a new repository instance.
func NewRecordRepository(db *gorm.DB, logger *zap.Logger) *RecordRepository {
	return &RecordRepository{
		db:             db,
		logger:         logger.Named("record_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RecordRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{}, &User{})
}

// Create persists a new record in pending state.
func (r *RecordRepository) Create(ctx context.Context, record *AnalysisRecord) error {
	return r.executeWithRetry(ctx, "repository.create_record", record.ID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByID retrieves one record.
func (r *RecordRepository) FindByID(ctx context.Context, id string) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_record", id, func() error {
		return r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindPending returns up to limit pending records, oldest submission first.
func (r *RecordRepository) FindPending(ctx context.Context, limit int) ([]*AnalysisRecord, error) {
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_pending", "", func() error {
		return r.db.WithContext(ctx).
			Where("status = ?", StatusPending).
			Order("submitted_at ASC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FindFailed returns up to limit failed records, oldest submission first.
func (r *RecordRepository) FindFailed(ctx context.Context, limit int) ([]*AnalysisRecord, error) {
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_failed", "", func() error {
		return r.db.WithContext(ctx).
			Where("status = ?", StatusFailed).
			Order("submitted_at ASC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Claim atomically moves one record from pending to processing. The returned
// bool reports whether this caller won the claim; losing is not an error.
func (r *RecordRepository) Claim(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, "repository.claim_record", id, StatusProcessing, "status = ?", StatusPending)
}

// ClaimForRetry moves a record into processing from any non-processing state.
// Used by the manual trigger and the failed-retry pass.
func (r *RecordRepository) ClaimForRetry(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, "repository.claim_for_retry", id, StatusProcessing, "status <> ?", StatusProcessing)
}

func (r *RecordRepository) transition(ctx context.Context, operation, id string, to Status, cond string, condArg Status) (bool, error) {
	var claimed bool
	err := r.executeWithRetry(ctx, operation, id, func() error {
		res := r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Where("id = ?", id).
			Where(cond, condArg).
			Updates(map[string]interface{}{
				"status":     to,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Complete records a successful assessment. Only valid from processing; the
// result payload and the status change land in one update.
func (r *RecordRepository) Complete(ctx context.Context, id, detections, riskLevel, riskDescription string) error {
	return r.finalize(ctx, "repository.complete_record", id, map[string]interface{}{
		"status":           StatusCompleted,
		"detections":       detections,
		"risk_level":       riskLevel,
		"risk_description": riskDescription,
		"error_message":    "",
		"updated_at":       time.Now().UTC(),
	})
}

// Fail records an assessment failure. Only valid from processing.
func (r *RecordRepository) Fail(ctx context.Context, id, errorMessage string) error {
	return r.finalize(ctx, "repository.fail_record", id, map[string]interface{}{
		"status":           StatusFailed,
		"detections":       "",
		"risk_level":       "",
		"risk_description": "",
		"error_message":    errorMessage,
		"updated_at":       time.Now().UTC(),
	})
}

func (r *RecordRepository) finalize(ctx context.Context, operation, id string, updates map[string]interface{}) error {
	return r.executeWithRetry(ctx, operation, id, func() error {
		res := r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Where("id = ? AND status = ?", id, StatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("record not in processing state")
		}
		return nil
	})
}

// ReclaimStuck moves processing records with no progress since the cutoff back
// to pending so a later pass can pick them up again. Returns how many moved.
func (r *RecordRepository) ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	var reclaimed int64
	err := r.executeWithRetry(ctx, "repository.reclaim_stuck", "", func() error {
		res := r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).
			Updates(map[string]interface{}{
				"status":     StatusPending,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		reclaimed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// CountByStatus aggregates an owner's records per status.
func (r *RecordRepository) CountByStatus(ctx context.Context, ownerID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.executeWithRetry(ctx, "repository.count_by_status", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select("status, COUNT(*) AS count").
			Where("owner_id = ?", ownerID).
			Group("status").
			Find(&counts).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CountCompletedByRisk aggregates an owner's completed records per risk level.
func (r *RecordRepository) CountCompletedByRisk(ctx context.Context, ownerID string) ([]RiskCount, error) {
	var counts []RiskCount
	err := r.executeWithRetry(ctx, "repository.count_by_risk", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select("risk_level, COUNT(*) AS count").
			Where("owner_id = ? AND status = ?", ownerID, StatusCompleted).
			Group("risk_level").
			Find(&counts).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ListCompleted pages through an owner's completed records, newest first.
func (r *RecordRepository) ListCompleted(ctx context.Context, ownerID string, page, pageSize int) (*PaginatedRecords, error) {
	if page < 1 {
		page = 1
	}

	result := &PaginatedRecords{Page: page, PageSize: pageSize}
	err := r.executeWithRetry(ctx, "repository.list_completed", "", func() error {
		query := r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Where("owner_id = ? AND status = ?", ownerID, StatusCompleted)

		if err := query.Count(&result.Total).Error; err != nil {
			return err
		}

		return query.
			Order("submitted_at DESC").
			Offset((page - 1) * pageSize).
			Limit(pageSize).
			Find(&result.Records).Error
	})
	if err != nil {
		return nil, err
	}

	result.TotalPages = totalPages(result.Total, pageSize)
	return result, nil
}

// totalPages is the page count covering total items, rounding up.
func totalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

func (r *RecordRepository) executeWithRetry(ctx context.Context, operation, recordID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("store operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("store operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient store error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
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
