package community

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/services/moderation"
	"github.com/zentra/warden/pkg/database"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, moderation.ErrTargetNotFound},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, moderation.ErrMissingPermission},
		{"foreign key", &pgconn.PgError{Code: "23503"}, moderation.ErrTargetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	transient := errors.New("connection reset")
	got := classify(transient)
	assert.Equal(t, transient, got)
	assert.NotErrorIs(t, got, moderation.ErrTargetNotFound)
}

func TestMembershipErrorsAreNotPermitted(t *testing.T) {
	assert.ErrorIs(t, ErrNotMember, moderation.ErrNotPermitted)
	assert.ErrorIs(t, ErrInsufficientPerms, moderation.ErrNotPermitted)
}

// Minimal gateway tables the service reads and writes.
const fixtureSchema = `
CREATE TABLE IF NOT EXISTS communities (
	id UUID PRIMARY KEY, name TEXT NOT NULL, owner_id UUID NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(), deleted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS community_members (
	id UUID PRIMARY KEY, community_id UUID NOT NULL, user_id UUID NOT NULL,
	role TEXT NOT NULL DEFAULT 'member', joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (community_id, user_id)
);
CREATE TABLE IF NOT EXISTS roles (
	id UUID PRIMARY KEY, community_id UUID NOT NULL, name TEXT NOT NULL,
	position INT NOT NULL DEFAULT 0, permissions BIGINT NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT FALSE, created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS member_roles (
	member_id UUID NOT NULL, role_id UUID NOT NULL, PRIMARY KEY (member_id, role_id)
);
`

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WARDEN_TEST_DATABASE_URL not set")
	}
	pool, err := database.NewPostgresPool(url)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, database.EnsureModerationSchema(ctx, pool))
	_, err = pool.Exec(ctx, fixtureSchema)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type fixture struct {
	community uuid.UUID
	owner     uuid.UUID
}

func seedCommunity(t *testing.T, pool *pgxpool.Pool) fixture {
	t.Helper()
	f := fixture{community: uuid.New(), owner: uuid.New()}
	_, err := pool.Exec(context.Background(),
		`INSERT INTO communities (id, name, owner_id) VALUES ($1, 'test', $2)`, f.community, f.owner)
	require.NoError(t, err)
	return f
}

func addMember(t *testing.T, pool *pgxpool.Pool, community uuid.UUID, position int, created time.Time) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID, memberID, roleID := uuid.New(), uuid.New(), uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO community_members (id, community_id, user_id) VALUES ($1, $2, $3)`, memberID, community, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO roles (id, community_id, name, position, permissions, created_at) VALUES ($1, $2, 'r', $3, $4, $5)`,
		roleID, community, position, models.PermissionKickMembers, created)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO member_roles (member_id, role_id) VALUES ($1, $2)`, memberID, roleID)
	require.NoError(t, err)
	return userID
}

func TestServiceEnforcement(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	pool := testPool(t)
	svc := NewService(pool, nil, "")
	f := seedCommunity(t, pool)

	created := time.Now().Add(-time.Hour).UTC()
	moderator := addMember(t, pool, f.community, 10, created)
	target := addMember(t, pool, f.community, 5, created)

	rank, err := svc.ResolveSubject(ctx, f.community, moderator)
	require.NoError(t, err)
	assert.Equal(10, rank.Position)

	rank, err = svc.ResolveSubject(ctx, f.community, f.owner)
	require.NoError(t, err)
	assert.True(rank.Owner)

	rank, err = svc.ResolveSubject(ctx, f.community, uuid.New())
	require.NoError(t, err)
	assert.Equal(models.Rank{}, rank)

	assert.NoError(svc.RequirePermission(ctx, f.community, moderator, models.PermissionKickMembers))
	assert.ErrorIs(svc.RequirePermission(ctx, f.community, moderator, models.PermissionBanMembers), moderation.ErrNotPermitted)

	roleID, err := svc.MuteRole(ctx, f.community)
	require.NoError(t, err)
	again, err := svc.MuteRole(ctx, f.community)
	require.NoError(t, err)
	assert.Equal(roleID, again)

	assert.NoError(svc.AssignRole(ctx, f.community, target, roleID))
	assert.NoError(svc.RemoveRole(ctx, f.community, target, roleID))

	assert.ErrorIs(svc.Kick(ctx, f.community, f.owner, ""), moderation.ErrMissingPermission)
	assert.NoError(svc.Kick(ctx, f.community, target, "spam"))
	assert.ErrorIs(svc.Kick(ctx, f.community, target, "spam"), moderation.ErrTargetNotFound)

	d := time.Hour
	assert.NoError(svc.Ban(ctx, f.community, moderator, "raid", &d))
	assert.NoError(svc.Unban(ctx, f.community, moderator, ""))
	assert.ErrorIs(svc.Unban(ctx, f.community, moderator, ""), moderation.ErrTargetNotFound)
}
