package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// moderationSchema creates the moderation tables if they are missing.
// Full migrations are managed alongside the gateway schema.
const moderationSchema = `
CREATE TABLE IF NOT EXISTS mod_logs (
	id           UUID PRIMARY KEY,
	community_id UUID NOT NULL,
	subject_id   UUID NOT NULL,
	actor_id     UUID NOT NULL,
	action       TEXT NOT NULL,
	reason       TEXT,
	duration     BIGINT,
	status       TEXT NOT NULL DEFAULT 'pending',
	pseudo       BOOLEAN NOT NULL DEFAULT FALSE,
	hidden       BOOLEAN NOT NULL DEFAULT FALSE,
	ref_case_id  UUID,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_mod_logs_community ON mod_logs (community_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_mod_logs_subject ON mod_logs (community_id, subject_id);

CREATE TABLE IF NOT EXISTS active_punishments (
	subject_id      UUID NOT NULL,
	community_id    UUID NOT NULL,
	punishment_type TEXT NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	case_ref        UUID NOT NULL REFERENCES mod_logs (id),
	payload         JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (subject_id, community_id, punishment_type)
);
CREATE INDEX IF NOT EXISTS idx_active_punishments_expires ON active_punishments (expires_at);

CREATE TABLE IF NOT EXISTS community_bans (
	community_id UUID NOT NULL,
	user_id      UUID NOT NULL,
	reason       TEXT,
	expires_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (community_id, user_id)
);
`

// EnsureModerationSchema bootstraps the moderation tables.
func EnsureModerationSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, moderationSchema); err != nil {
		return fmt.Errorf("failed to create moderation schema: %w", err)
	}
	return nil
}
