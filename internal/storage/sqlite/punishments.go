package sqlite

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

const dueBatchSize = 100

type Punishments struct {
	db *gorm.DB
}

func NewPunishments(db *gorm.DB) *Punishments {
	return &Punishments{db: db}
}

func (s *Punishments) Upsert(ctx context.Context, p *models.ActivePunishment) (*uuid.UUID, error) {
	row, err := toPunishmentRow(p)
	if err != nil {
		return nil, err
	}

	var superseded *uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev activePunishmentRow
		err := keyClause(tx, p.PunishmentKey).Take(&prev).Error
		switch {
		case err == nil:
			if prev.CaseRef != p.CaseRef {
				ref := prev.CaseRef
				superseded = &ref
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}, {Name: "community_id"}, {Name: "punishment_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at", "case_ref", "payload"}),
		}).Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert active punishment: %w", err)
	}
	return superseded, nil
}

func (s *Punishments) Restore(ctx context.Context, p *models.ActivePunishment) (bool, error) {
	row, err := toPunishmentRow(p)
	if err != nil {
		return false, err
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to restore active punishment: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Punishments) Get(ctx context.Context, key models.PunishmentKey) (*models.ActivePunishment, error) {
	var row activePunishmentRow
	err := keyClause(s.db.WithContext(ctx), key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAbsent
		}
		return nil, err
	}
	return row.model()
}

func (s *Punishments) DeleteIfPresent(ctx context.Context, key models.PunishmentKey, caseRef uuid.UUID) (models.PunishmentPayload, error) {
	var payload models.PunishmentPayload
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row activePunishmentRow
		err := keyClause(tx, key).Where("case_ref = ?", caseRef).Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrAbsent
			}
			return err
		}

		res := keyClause(tx, key).Where("case_ref = ?", caseRef).Delete(&activePunishmentRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrAbsent
		}

		payload, err = models.UnmarshalPunishmentPayload(row.Payload)
		return err
	})
	return payload, err
}

// ListDue pages through due rows in (expires_at, key) order. Every page query
// completes before rows are yielded, so callers may write to the store while
// iterating.
func (s *Punishments) ListDue(ctx context.Context, now time.Time) iter.Seq2[*models.ActivePunishment, error] {
	return func(yield func(*models.ActivePunishment, error) bool) {
		var last *activePunishmentRow
		for {
			q := s.db.WithContext(ctx).Where("expires_at <= ?", now.UnixNano())
			if last != nil {
				q = q.Where(
					"(expires_at, subject_id, community_id, punishment_type) > (?, ?, ?, ?)",
					last.ExpiresAt, last.SubjectID, last.CommunityID, last.PunishmentType,
				)
			}

			var rows []activePunishmentRow
			err := q.Order("expires_at, subject_id, community_id, punishment_type").
				Limit(dueBatchSize).Find(&rows).Error
			if err != nil {
				yield(nil, err)
				return
			}

			for i := range rows {
				p, err := rows[i].model()
				if !yield(p, err) || err != nil {
					return
				}
			}
			if len(rows) < dueBatchSize {
				return
			}
			last = &rows[len(rows)-1]
		}
	}
}
