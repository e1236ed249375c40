// Package storage defines the persistence contracts for the mod log ledger and
// the active punishment store. Every invariant that concurrent callers rely on
// (case immutability, one row per punishment key, exactly-once reversal) is
// enforced inside a single storage operation.
package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/zentra/warden/internal/models"
)

var (
	ErrCaseNotFound   = errors.New("case not found")
	ErrCaseNotPending = errors.New("case is already finalized")
	ErrAbsent         = errors.New("active punishment not found")
)

// Ledger is the append-mostly mod log.
type Ledger interface {
	// Create stores entry and returns its case id. A zero entry.ID is assigned a
	// fresh UUIDv4; CreatedAt is always the write time.
	Create(ctx context.Context, entry *models.ModLogEntry) (uuid.UUID, error)
	// Finalize moves a pending case to status.
	Finalize(ctx context.Context, caseID uuid.UUID, status models.CaseStatus) error
	// ToggleHidden flips the hidden flag of a non-pseudo case belonging to
	// communityID and returns the new value.
	ToggleHidden(ctx context.Context, caseID, communityID uuid.UUID) (bool, error)
	// Find returns any entry, pseudo included.
	Find(ctx context.Context, caseID uuid.UUID) (*models.ModLogEntry, error)
	// List returns entries of a community, newest first.
	List(ctx context.Context, filter models.ModLogFilter) ([]*models.ModLogEntry, error)
}

// Punishments stores currently active timed punishments.
type Punishments interface {
	// Upsert writes p, replacing any row with the same key. It returns the case
	// reference of the replaced row, if there was one.
	Upsert(ctx context.Context, p *models.ActivePunishment) (*uuid.UUID, error)
	// Restore inserts p only if no row exists for its key.
	Restore(ctx context.Context, p *models.ActivePunishment) (bool, error)
	// Get returns the live row for key, or ErrAbsent.
	Get(ctx context.Context, key models.PunishmentKey) (*models.ActivePunishment, error)
	// DeleteIfPresent atomically removes the row for key if it still refers to
	// caseRef, returning its payload. ErrAbsent means another caller got there first.
	DeleteIfPresent(ctx context.Context, key models.PunishmentKey, caseRef uuid.UUID) (models.PunishmentPayload, error)
	// ListDue yields rows with expiresAt <= now. Each call runs a fresh scan.
	ListDue(ctx context.Context, now time.Time) iter.Seq2[*models.ActivePunishment, error]
}

// Lookup is the moderator-facing case lookup: pseudo entries and cases from
// other communities are reported as ErrCaseNotFound.
func Lookup(ctx context.Context, ledger Ledger, caseID, communityID uuid.UUID) (*models.ModLogEntry, error) {
	entry, err := ledger.Find(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if entry.Pseudo || entry.CommunityID != communityID {
		return nil, ErrCaseNotFound
	}
	return entry, nil
}
