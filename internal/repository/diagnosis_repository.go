package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafdoctor/internal/logging"
)

// DiagnosisLog is one handled image event. The spreadsheet stays the system
// of record; this table only feeds the admin endpoints.
type DiagnosisLog struct {
	ID          uint      `gorm:"primaryKey"`
	DiagnosisID string    `gorm:"column:diagnosis_id;uniqueIndex;size:64"`
	UserID      string    `gorm:"column:user_id;size:64"`
	Label       string    `gorm:"column:label;size:128"`
	Confidence  float64   `gorm:"column:confidence"`
	Definite    bool      `gorm:"column:definite"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (DiagnosisLog) TableName() string {
	return "diagnosis_logs"
}

// Aggregation holds the raw numbers behind the metrics summary.
type Aggregation struct {
	TotalCount        int64
	DefiniteCount     int64
	AverageConfidence float64
}

// DiagnosisRepository provides persistence APIs for diagnosis history.
type DiagnosisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDiagnosisRepository creates a new repository instance.
func NewDiagnosisRepository(db *gorm.DB, logger *zap.Logger) *DiagnosisRepository {
	return &DiagnosisRepository{
		db:             db,
		logger:         logger.Named("diagnosis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *DiagnosisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DiagnosisLog{})
}

// SaveLog persists a diagnosis log entry.
func (r *DiagnosisRepository) SaveLog(ctx context.Context, log *DiagnosisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.DiagnosisID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindRecent returns the newest entries, capped at limit.
func (r *DiagnosisRepository) FindRecent(ctx context.Context, limit int) ([]*DiagnosisLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*DiagnosisLog
	err := r.executeWithRetry(ctx, "repository.find_recent", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals over all handled events.
func (r *DiagnosisRepository) AggregateMetrics(ctx context.Context) (*Aggregation, error) {
	var row struct {
		Total         int64
		Definite      int64
		AvgConfidence sql.NullFloat64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&DiagnosisLog{}).
			Select("COUNT(*) AS total, SUM(CASE WHEN definite THEN 1 ELSE 0 END) AS definite, AVG(confidence) AS avg_confidence").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &Aggregation{TotalCount: row.Total, DefiniteCount: row.Definite}
	if row.AvgConfidence.Valid {
		agg.AverageConfidence = row.AvgConfidence.Float64
	}
	return agg, nil
}

func (r *DiagnosisRepository) executeWithRetry(ctx context.Context, operation, diagnosisID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, diagnosisID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, diagnosisID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, diagnosisID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, diagnosisID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, diagnosisID, err)
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
