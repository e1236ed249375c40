package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
)

type Punishments struct {
	db *pgxpool.Pool
}

func NewPunishments(db *pgxpool.Pool) *Punishments {
	return &Punishments{db: db}
}

func (s *Punishments) Upsert(ctx context.Context, p *models.ActivePunishment) (*uuid.UUID, error) {
	payload, err := p.Payload.Marshal()
	if err != nil {
		return nil, err
	}

	// prev is read from the statement snapshot, before the upsert is applied.
	var superseded *uuid.UUID
	err = s.db.QueryRow(ctx,
		`WITH prev AS (
			SELECT case_ref FROM active_punishments
			WHERE subject_id = $1 AND community_id = $2 AND punishment_type = $3
		)
		INSERT INTO active_punishments (subject_id, community_id, punishment_type, expires_at, case_ref, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id, community_id, punishment_type) DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			case_ref = EXCLUDED.case_ref,
			payload = EXCLUDED.payload
		RETURNING (SELECT case_ref FROM prev)`,
		p.SubjectID, p.CommunityID, p.Type, p.ExpiresAt, p.CaseRef, payload,
	).Scan(&superseded)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert active punishment: %w", err)
	}
	if superseded != nil && *superseded == p.CaseRef {
		return nil, nil
	}

	return superseded, nil
}

func (s *Punishments) Restore(ctx context.Context, p *models.ActivePunishment) (bool, error) {
	payload, err := p.Payload.Marshal()
	if err != nil {
		return false, err
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO active_punishments (subject_id, community_id, punishment_type, expires_at, case_ref, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id, community_id, punishment_type) DO NOTHING`,
		p.SubjectID, p.CommunityID, p.Type, p.ExpiresAt, p.CaseRef, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to restore active punishment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Punishments) Get(ctx context.Context, key models.PunishmentKey) (*models.ActivePunishment, error) {
	p, err := scanPunishment(s.db.QueryRow(ctx,
		`SELECT subject_id, community_id, punishment_type, expires_at, case_ref, payload
		FROM active_punishments
		WHERE subject_id = $1 AND community_id = $2 AND punishment_type = $3`,
		key.SubjectID, key.CommunityID, key.Type,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrAbsent
		}
		return nil, err
	}
	return p, nil
}

func (s *Punishments) DeleteIfPresent(ctx context.Context, key models.PunishmentKey, caseRef uuid.UUID) (models.PunishmentPayload, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`DELETE FROM active_punishments
		WHERE subject_id = $1 AND community_id = $2 AND punishment_type = $3 AND case_ref = $4
		RETURNING payload`,
		key.SubjectID, key.CommunityID, key.Type, caseRef,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PunishmentPayload{}, storage.ErrAbsent
		}
		return models.PunishmentPayload{}, err
	}
	return models.UnmarshalPunishmentPayload(raw)
}

func (s *Punishments) ListDue(ctx context.Context, now time.Time) iter.Seq2[*models.ActivePunishment, error] {
	return func(yield func(*models.ActivePunishment, error) bool) {
		rows, err := s.db.Query(ctx,
			`SELECT subject_id, community_id, punishment_type, expires_at, case_ref, payload
			FROM active_punishments
			WHERE expires_at <= $1
			ORDER BY expires_at`,
			now,
		)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPunishment(rows)
			if !yield(p, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func scanPunishment(row interface{ Scan(dest ...any) error }) (*models.ActivePunishment, error) {
	p := &models.ActivePunishment{}
	var raw []byte
	err := row.Scan(&p.SubjectID, &p.CommunityID, &p.Type, &p.ExpiresAt, &p.CaseRef, &raw)
	if err != nil {
		return nil, err
	}
	p.Payload, err = models.UnmarshalPunishmentPayload(raw)
	if err != nil {
		return nil, err
	}
	return p, nil
}
