package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRecord 会话归档表
type SessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:32;index"`
	Summary   string `gorm:"type:text"`
	ErrorCode string `gorm:"size:64"`
	Rounds    int
	Data      string    `gorm:"type:text"`
	StartedAt time.Time `gorm:"index"`
	EndedAt   *time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (SessionRecord) TableName() string {
	return "conversation_sessions"
}

// GormSessionStore 通过 gorm 把快照归档到关系数据库
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore returns the store, creating the session table when it
// does not exist yet. Tables created by the migrate command are left as is.
func NewGormSessionStore(db *gorm.DB) (*GormSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrInvalidInput)
	}
	if db.Migrator().HasTable(&SessionRecord{}) {
		return &GormSessionStore{db: db}, nil
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}
	return &GormSessionStore{db: db}, nil
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *GormSessionStore) Close() error { return nil }

func (s *GormSessionStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormSessionStore) Save(ctx context.Context, snap conversation.Snapshot) error {
	if snap.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	rec := SessionRecord{
		ID:        snap.ID,
		Status:    string(snap.Status),
		Summary:   snap.Summary,
		ErrorCode: string(snap.ErrorCode),
		Rounds:    snap.Round,
		Data:      string(data),
		StartedAt: snap.StartedAt,
	}
	if !snap.EndedAt.IsZero() {
		ended := snap.EndedAt
		rec.EndedAt = &ended
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *GormSessionStore) Load(ctx context.Context, id string) (conversation.Snapshot, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conversation.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return decodeSnapshot([]byte(rec.Data))
}

func (s *GormSessionStore) List(ctx context.Context, opts ListOptions) ([]conversation.Snapshot, error) {
	q := s.db.WithContext(ctx).Model(&SessionRecord{}).Order("started_at DESC").Order("id ASC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var recs []SessionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]conversation.Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := decodeSnapshot([]byte(rec.Data))
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", rec.ID, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *GormSessionStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&SessionRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
