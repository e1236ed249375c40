package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

type Ledger struct {
	db *pgxpool.Pool
}

func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

const modLogColumns = `id, community_id, subject_id, actor_id, action, reason, duration, status, pseudo, hidden, ref_case_id, created_at`

func (l *Ledger) Create(ctx context.Context, entry *models.ModLogEntry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = models.CaseStatusPending
	}

	err := l.db.QueryRow(ctx,
		`INSERT INTO mod_logs (id, community_id, subject_id, actor_id, action, reason, duration, status, pseudo, hidden, ref_case_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING created_at`,
		entry.ID, entry.CommunityID, entry.SubjectID, entry.ActorID, entry.Action, entry.Reason,
		entry.Duration, entry.Status, entry.Pseudo, entry.Hidden, entry.RefCaseID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert mod log: %w", err)
	}

	return entry.ID, nil
}

func (l *Ledger) Finalize(ctx context.Context, caseID uuid.UUID, status models.CaseStatus) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE mod_logs SET status = $2 WHERE id = $1 AND status = $3`,
		caseID, status, models.CaseStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize mod log: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mod_logs WHERE id = $1)`, caseID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return storage.ErrCaseNotFound
	}
	return storage.ErrCaseNotPending
}

func (l *Ledger) ToggleHidden(ctx context.Context, caseID, communityID uuid.UUID) (bool, error) {
	var hidden bool
	err := l.db.QueryRow(ctx,
		`UPDATE mod_logs SET hidden = NOT hidden
		WHERE id = $1 AND community_id = $2 AND pseudo = FALSE
		RETURNING hidden`,
		caseID, communityID,
	).Scan(&hidden)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, storage.ErrCaseNotFound
		}
		return false, err
	}
	return hidden, nil
}

func (l *Ledger) Find(ctx context.Context, caseID uuid.UUID) (*models.ModLogEntry, error) {
	entry, err := scanModLog(l.db.QueryRow(ctx,
		`SELECT `+modLogColumns+` FROM mod_logs WHERE id = $1`,
		caseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrCaseNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (l *Ledger) List(ctx context.Context, filter models.ModLogFilter) ([]*models.ModLogEntry, error) {
	filter.Normalize()

	rows, err := l.db.Query(ctx,
		`SELECT `+modLogColumns+` FROM mod_logs
		WHERE community_id = $1
			AND ($2::uuid IS NULL OR subject_id = $2)
			AND ($3 OR hidden = FALSE)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		filter.CommunityID, filter.SubjectID, filter.IncludeHidden, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.ModLogEntry
	for rows.Next() {
		entry, err := scanModLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanModLog(row interface{ Scan(dest ...any) error }) (*models.ModLogEntry, error) {
	e := &models.ModLogEntry{}
	err := row.Scan(
		&e.ID, &e.CommunityID, &e.SubjectID, &e.ActorID, &e.Action, &e.Reason, &e.Duration,
		&e.Status, &e.Pseudo, &e.Hidden, &e.RefCaseID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
