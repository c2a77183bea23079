// Package journal persists started rounds to Postgres.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
)

// levelRound is one row per start_level request.
type levelRound struct {
	ID          uint      `gorm:"primaryKey"`
	Level       int       `gorm:"not null"`
	PlayerCount int       `gorm:"not null"`
	MobCount    int       `gorm:"not null"`
	StartedAt   time.Time `gorm:"not null;index"`
}

func (levelRound) TableName() string { return "level_rounds" }

func fromRecord(rec engine.Record) levelRound {
	return levelRound{
		Level:       rec.Level,
		PlayerCount: rec.PlayerCount,
		MobCount:    rec.MobCount,
		StartedAt:   rec.StartedAt.UTC(),
	}
}

func (r levelRound) record() engine.Record {
	return engine.Record{
		Level:       r.Level,
		PlayerCount: r.PlayerCount,
		MobCount:    r.MobCount,
		StartedAt:   r.StartedAt,
	}
}

// Store implements engine.Journal on top of gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("journal: empty dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = closeDB(db)
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection and migrates the schema.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&levelRound{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, rec engine.Record) error {
	row := fromRecord(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal: insert round: %w", err)
	}
	return nil
}

// Recent returns up to limit rounds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]engine.Record, error) {
	var rows []levelRound
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: query rounds: %w", err)
	}

	out := make([]engine.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) Close() error { return closeDB(s.db) }

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
