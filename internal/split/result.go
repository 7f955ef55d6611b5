package split

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ResultStatus string

const (
	ResultFinished ResultStatus = "finished"
	ResultFailed   ResultStatus = "failed"
)

// ResultEvent describes how one side of a turn ended.
type ResultEvent struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Side           Side          `json:"side"`
	Model          string        `json:"model"`
	Status         ResultStatus  `json:"status"`
	Content        string        `json:"content"`
	Error          string        `json:"error,omitempty"`
	Latency        time.Duration `json:"latency_ns"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// ResultSink receives terminal events. Implementations must not call back into the view.
type ResultSink interface {
	Report(ctx context.Context, ev ResultEvent) error
}

// Result is the stored form of a ResultEvent.
type Result struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(26);index;not null" json:"conversation_id"`
	MessageID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"message_id"`
	Side           string    `gorm:"type:varchar(8);not null" json:"side"`
	Model          string    `gorm:"type:varchar(64);index;not null" json:"model"`
	Status         string    `gorm:"type:varchar(16);index;not null" json:"status"`
	ContentLength  int       `gorm:"not null" json:"content_length"`
	Error          *string   `gorm:"type:text" json:"error,omitempty"`
	LatencyMS      int64     `gorm:"not null" json:"latency_ms"`
	FinishedAt     time.Time `json:"finished_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Result) TableName() string { return "split_results" }

type ResultRepo struct {
	db *gorm.DB
}

func NewResultRepo(db *gorm.DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// Save stores ev. Redelivered events for the same message id are ignored.
func (r *ResultRepo) Save(ctx context.Context, ev ResultEvent) error {
	row := &Result{
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Side:           string(ev.Side),
		Model:          ev.Model,
		Status:         string(ev.Status),
		ContentLength:  len(ev.Content),
		LatencyMS:      ev.Latency.Milliseconds(),
		FinishedAt:     ev.FinishedAt,
	}
	if ev.Error != "" {
		e := ev.Error
		row.Error = &e
	}

	var cnt int64
	if err := r.db.WithContext(ctx).Model(&Result{}).
		Where("message_id = ?", ev.MessageID).
		Count(&cnt).Error; err != nil {
		return err
	}
	if cnt > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// ListByConversation returns results in insertion order.
func (r *ResultRepo) ListByConversation(ctx context.Context, conversationID string) ([]Result, error) {
	var rows []Result
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
