package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) Create(ctx context.Context, entry *models.ModLogEntry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = models.CaseStatusPending
	}
	entry.CreatedAt = l.now().UTC()

	if err := l.db.WithContext(ctx).Create(toModLogRow(entry)).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert mod log: %w", err)
	}
	return entry.ID, nil
}

func (l *Ledger) Finalize(ctx context.Context, caseID uuid.UUID, status models.CaseStatus) error {
	res := l.db.WithContext(ctx).Model(&modLogRow{}).
		Where("id = ? AND status = ?", caseID, string(models.CaseStatusPending)).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to finalize mod log: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := l.db.WithContext(ctx).Model(&modLogRow{}).Where("id = ?", caseID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrCaseNotFound
	}
	return storage.ErrCaseNotPending
}

func (l *Ledger) ToggleHidden(ctx context.Context, caseID, communityID uuid.UUID) (bool, error) {
	var hidden bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&modLogRow{}).
			Where("id = ? AND community_id = ? AND pseudo = ?", caseID, communityID, false).
			Update("hidden", gorm.Expr("NOT hidden"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrCaseNotFound
		}

		var row modLogRow
		if err := tx.Select("hidden").Where("id = ?", caseID).Take(&row).Error; err != nil {
			return err
		}
		hidden = row.Hidden
		return nil
	})
	if err != nil {
		return false, err
	}
	return hidden, nil
}

func (l *Ledger) Find(ctx context.Context, caseID uuid.UUID) (*models.ModLogEntry, error) {
	var row modLogRow
	err := l.db.WithContext(ctx).Where("id = ?", caseID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrCaseNotFound
		}
		return nil, err
	}
	return row.model(), nil
}

func (l *Ledger) List(ctx context.Context, filter models.ModLogFilter) ([]*models.ModLogEntry, error) {
	filter.Normalize()

	q := l.db.WithContext(ctx).Where("community_id = ?", filter.CommunityID)
	if filter.SubjectID != nil {
		q = q.Where("subject_id = ?", *filter.SubjectID)
	}
	if !filter.IncludeHidden {
		q = q.Where("hidden = ?", false)
	}

	var rows []modLogRow
	err := q.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*models.ModLogEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].model())
	}
	return entries, nil
}
