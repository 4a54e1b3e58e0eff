package tcp

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// HandshakeRecord is the persisted form of a HandshakeEvent.
type HandshakeRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:uuid;not null;index" json:"session_id"`
	RemoteAddr string    `gorm:"not null" json:"remote_addr"`
	Outcome    string    `gorm:"not null;index" json:"outcome"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (HandshakeRecord) TableName() string {
	return "handshake_events"
}

// HandshakePostgresRepo handles PostgreSQL persistence of handshake outcomes
type HandshakePostgresRepo struct {
	db *gorm.DB
}

// OpenHandshakePostgresRepo connects with the given DSN and migrates the table.
func OpenHandshakePostgresRepo(dsn string) (*HandshakePostgresRepo, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	repo := NewHandshakePostgresRepo(db)
	if err := db.AutoMigrate(&HandshakeRecord{}); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to migrate handshake_events: %w", err)
	}
	return repo, nil
}

func NewHandshakePostgresRepo(db *gorm.DB) *HandshakePostgresRepo {
	return &HandshakePostgresRepo{db: db}
}

// SaveHandshake inserts a single event.
func (r *HandshakePostgresRepo) SaveHandshake(ctx context.Context, evt *HandshakeEvent) error {
	rec := toRecord(evt)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save handshake to postgres: %w", err)
	}
	return nil
}

// BatchInsert inserts multiple events in a single transaction
func (r *HandshakePostgresRepo) BatchInsert(ctx context.Context, batch []*HandshakeEvent) error {
	if len(batch) == 0 {
		return nil
	}
	records := make([]HandshakeRecord, 0, len(batch))
	for _, evt := range batch {
		records = append(records, toRecord(evt))
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 200).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert handshake batch: %w", err)
	}
	return nil
}

// Recent returns the newest n events.
func (r *HandshakePostgresRepo) Recent(ctx context.Context, n int) ([]*HandshakeEvent, error) {
	var records []HandshakeRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(n).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	events := make([]*HandshakeEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, &HandshakeEvent{
			SessionID:  rec.SessionID,
			RemoteAddr: rec.RemoteAddr,
			Outcome:    rec.Outcome,
			Reason:     rec.Reason,
			At:         rec.CreatedAt,
		})
	}
	return events, nil
}

// Stats counts stored events per outcome.
func (r *HandshakePostgresRepo) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Count   int64
	}
	err := r.db.WithContext(ctx).
		Model(&HandshakeRecord{}).
		Select("outcome, COUNT(*) AS count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, row := range rows {
		stats[row.Outcome] = row.Count
	}
	return stats, nil
}

// Close closes the underlying connection pool
func (r *HandshakePostgresRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(evt *HandshakeEvent) HandshakeRecord {
	return HandshakeRecord{
		SessionID:  evt.SessionID,
		RemoteAddr: evt.RemoteAddr,
		Outcome:    evt.Outcome,
		Reason:     evt.Reason,
		CreatedAt:  evt.At,
	}
}
