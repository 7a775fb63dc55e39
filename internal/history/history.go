// Package history keeps a durable trace of match lifecycles: when each
// match started, when it ended, and whether it merely expired. The
// recorder is best-effort; a database problem is logged and never
// surfaces into the engine.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type MatchRecord struct {
	ID        uint       `gorm:"primaryKey"`
	MatchID   string     `gorm:"uniqueIndex;size:16"`
	StartedAt *time.Time
	EndedAt   *time.Time
	Expired   bool
	TeamA     string `gorm:"size:32"`
	TeamB     string `gorm:"size:32"`
	Location  string `gorm:"size:64"`
}

// Recorder writes lifecycle rows. A nil *Recorder is valid and no-ops,
// so the engine runs fine without a database configured.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Recorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, err
	}
	return &Recorder{db: db, log: log}, nil
}

func (r *Recorder) RecordStart(ctx context.Context, matchID, teamA, teamB, location string) {
	if r == nil {
		return
	}
	now := time.Now()
	rec := MatchRecord{
		MatchID:   matchID,
		StartedAt: &now,
		TeamA:     teamA,
		TeamB:     teamB,
		Location:  location,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.log.Warn("history start record failed",
			zap.String("match_id", matchID), zap.Error(err))
	}
}

func (r *Recorder) RecordEnd(ctx context.Context, matchID string) {
	r.finish(ctx, matchID, false)
}

func (r *Recorder) RecordExpire(ctx context.Context, matchID string) {
	r.finish(ctx, matchID, true)
}

func (r *Recorder) finish(ctx context.Context, matchID string, expired bool) {
	if r == nil {
		return
	}
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&MatchRecord{}).
		Where("match_id = ?", matchID).
		Updates(map[string]any{"ended_at": &now, "expired": expired})
	if res.Error != nil {
		r.log.Warn("history end record failed",
			zap.String("match_id", matchID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		// Start row missing (pre-migration match or earlier write
		// failure); record what we know.
		rec := MatchRecord{MatchID: matchID, EndedAt: &now, Expired: expired}
		if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
			r.log.Warn("history end record failed",
				zap.String("match_id", matchID), zap.Error(err))
		}
	}
}
