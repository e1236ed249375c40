// Package sqlite is an embedded implementation of the moderation store, used by
// single-node deployments and by tests.
package sqlite

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zentra/warden/internal/models"
)

// Timestamps are stored as unix nanoseconds so that range scans compare numbers.
type modLogRow struct {
	ID          uuid.UUID  `gorm:"type:text;primaryKey"`
	CommunityID uuid.UUID  `gorm:"type:text;not null;index:idx_mod_logs_community"`
	SubjectID   uuid.UUID  `gorm:"type:text;not null"`
	ActorID     uuid.UUID  `gorm:"type:text;not null"`
	Action      string     `gorm:"not null"`
	Reason      *string    `gorm:"type:text"`
	Duration    *int64
	Status      string     `gorm:"not null;default:pending"`
	Pseudo      bool       `gorm:"not null;default:false"`
	Hidden      bool       `gorm:"not null;default:false"`
	RefCaseID   *uuid.UUID `gorm:"type:text"`
	CreatedNano int64      `gorm:"column:created_at;not null;index:idx_mod_logs_community"`
}

func (modLogRow) TableName() string {
	return "mod_logs"
}

type activePunishmentRow struct {
	SubjectID      uuid.UUID `gorm:"type:text;primaryKey"`
	CommunityID    uuid.UUID `gorm:"type:text;primaryKey"`
	PunishmentType string    `gorm:"primaryKey"`
	ExpiresAt      int64     `gorm:"not null;index"`
	CaseRef        uuid.UUID `gorm:"type:text;not null"`
	Payload        []byte
}

func (activePunishmentRow) TableName() string {
	return "active_punishments"
}

// Open opens (or creates) the database at dsn and migrates the moderation
// tables. Use a "file:<name>?mode=memory&cache=shared" dsn for an in-memory store.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite has a single writer; one connection serializes every storage
	// operation and keeps conditional deletes atomic.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&modLogRow{}, &activePunishmentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	return db, nil
}

func toModLogRow(e *models.ModLogEntry) *modLogRow {
	return &modLogRow{
		ID:          e.ID,
		CommunityID: e.CommunityID,
		SubjectID:   e.SubjectID,
		ActorID:     e.ActorID,
		Action:      string(e.Action),
		Reason:      e.Reason,
		Duration:    e.Duration,
		Status:      string(e.Status),
		Pseudo:      e.Pseudo,
		Hidden:      e.Hidden,
		RefCaseID:   e.RefCaseID,
		CreatedNano: e.CreatedAt.UnixNano(),
	}
}

func (r *modLogRow) model() *models.ModLogEntry {
	return &models.ModLogEntry{
		ID:          r.ID,
		CommunityID: r.CommunityID,
		SubjectID:   r.SubjectID,
		ActorID:     r.ActorID,
		Action:      models.ActionType(r.Action),
		Reason:      r.Reason,
		Duration:    r.Duration,
		Status:      models.CaseStatus(r.Status),
		Pseudo:      r.Pseudo,
		Hidden:      r.Hidden,
		RefCaseID:   r.RefCaseID,
		CreatedAt:   time.Unix(0, r.CreatedNano).UTC(),
	}
}

func toPunishmentRow(p *models.ActivePunishment) (*activePunishmentRow, error) {
	payload, err := p.Payload.Marshal()
	if err != nil {
		return nil, err
	}
	return &activePunishmentRow{
		SubjectID:      p.SubjectID,
		CommunityID:    p.CommunityID,
		PunishmentType: string(p.Type),
		ExpiresAt:      p.ExpiresAt.UnixNano(),
		CaseRef:        p.CaseRef,
		Payload:        payload,
	}, nil
}

func (r *activePunishmentRow) model() (*models.ActivePunishment, error) {
	payload, err := models.UnmarshalPunishmentPayload(r.Payload)
	if err != nil {
		return nil, err
	}
	return &models.ActivePunishment{
		PunishmentKey: models.PunishmentKey{
			SubjectID:   r.SubjectID,
			CommunityID: r.CommunityID,
			Type:        models.ActionType(r.PunishmentType),
		},
		ExpiresAt: time.Unix(0, r.ExpiresAt).UTC(),
		CaseRef:   r.CaseRef,
		Payload:   payload,
	}, nil
}

func keyClause(db *gorm.DB, key models.PunishmentKey) *gorm.DB {
	return db.Where("subject_id = ? AND community_id = ? AND punishment_type = ?",
		key.SubjectID, key.CommunityID, string(key.Type))
}
