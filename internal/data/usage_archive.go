package data

import (
	"context"
	"time"

	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ArchivedUsage is the GORM model for the usage_records archive table.
type ArchivedUsage struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	TrackingID    string    `gorm:"column:tracking_id;type:varchar(80);not null;uniqueIndex"`
	CorrelationID string    `gorm:"column:correlation_id;type:varchar(64);not null;index"`
	ProjectID     string    `gorm:"column:project_id;type:varchar(64);not null;index"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	AgentRole     string    `gorm:"column:agent_role;type:varchar(32);not null"`
	Model         string    `gorm:"column:model;type:varchar(64);not null"`
	InputTokens   int64     `gorm:"column:input_tokens;not null"`
	OutputTokens  int64     `gorm:"column:output_tokens;not null"`
	TotalTokens   int64     `gorm:"column:total_tokens;not null"`
	CostUsd       float64   `gorm:"column:cost_usd;type:decimal(12,6);not null"`
	RequestedAt   time.Time `gorm:"column:requested_at;not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ArchivedUsage) TableName() string {
	return "usage_records"
}

// UsageArchiverImpl implements biz.UsageArchiver. Records are written through
// a buffered channel by a background goroutine so archiving never blocks the
// request path. With no database configured the archiver drops records.
type UsageArchiverImpl struct {
	db      *gorm.DB
	records chan *ArchivedUsage
	logger  *log.Helper
}

// NewUsageArchiver creates a new usage archiver with an async writer.
func NewUsageArchiver(db *gorm.DB, logger log.Logger) *UsageArchiverImpl {
	a := &UsageArchiverImpl{
		db:      db,
		records: make(chan *ArchivedUsage, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	if db != nil {
		go a.start()
	}

	return a
}

// start processes archive writes from the channel.
func (a *UsageArchiverImpl) start() {
	for record := range a.records {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(record).Error; err != nil {
			a.logger.Errorw("failed to archive usage record",
				"tracking_id", record.TrackingID,
				"project_id", record.ProjectID,
				"error", err)
		} else {
			a.logger.Debugw("usage record archived",
				"tracking_id", record.TrackingID,
				"project_id", record.ProjectID)
		}
	}
}

// Archive enqueues one usage record for durable storage. The write is
// best-effort: a full buffer drops the record with a warning.
func (a *UsageArchiverImpl) Archive(record *model.UsageRecord) {
	if a.db == nil {
		return
	}

	archived := &ArchivedUsage{
		TrackingID:    record.TrackingID,
		CorrelationID: record.CorrelationID,
		ProjectID:     record.ProjectID,
		UserID:        record.UserID,
		AgentRole:     record.AgentRole,
		Model:         record.Model,
		InputTokens:   record.InputTokens,
		OutputTokens:  record.OutputTokens,
		TotalTokens:   record.TotalTokens,
		CostUsd:       record.Cost.Total,
		RequestedAt:   record.Timestamp,
	}

	select {
	case a.records <- archived:
	default:
		a.logger.Warnw("usage archive buffer full, dropping record",
			"tracking_id", record.TrackingID)
	}
}

// PruneBefore deletes archived records older than the cutoff and returns the
// number of rows removed. Called by the retention cron.
func (a *UsageArchiverImpl) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if a.db == nil {
		return 0, nil
	}

	result := a.db.WithContext(ctx).
		Where("requested_at < ?", cutoff).
		Delete(&ArchivedUsage{})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		a.logger.Infow("pruned archived usage records",
			"cutoff", cutoff,
			"rows", result.RowsAffected)
	}

	return result.RowsAffected, nil
}
