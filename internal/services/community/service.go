package community

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/services/moderation"
	"github.com/zentra/warden/pkg/database"
)

var (
	ErrCommunityNotFound = errors.New("community not found")
	ErrNotMember         = fmt.Errorf("user is not a member of this community: %w", moderation.ErrNotPermitted)
	ErrInsufficientPerms = fmt.Errorf("insufficient permissions: %w", moderation.ErrNotPermitted)
)

const (
	EventMemberRemove = "COMMUNITY_MEMBER_REMOVE"
	EventMemberUpdate = "COMMUNITY_MEMBER_UPDATE"
)

// Service enforces moderation actions against the community tables and
// resolves member ranks.
type Service struct {
	db           *pgxpool.Pool
	redis        *redis.Client
	muteRoleName string
}

func NewService(db *pgxpool.Pool, redis *redis.Client, muteRoleName string) *Service {
	if muteRoleName == "" {
		muteRoleName = "Muted"
	}
	return &Service{db: db, redis: redis, muteRoleName: muteRoleName}
}

func (s *Service) broadcast(ctx context.Context, communityID uuid.UUID, eventType string, data interface{}) {
	if s.redis == nil {
		return
	}
	event := struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{
		Type: eventType,
		Data: data,
	}

	broadcast := struct {
		CommunityID string      `json:"communityId"`
		Event       interface{} `json:"event"`
	}{
		CommunityID: communityID.String(),
		Event:       event,
	}

	jsonData, err := json.Marshal(broadcast)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal community member broadcast")
		return
	}

	if err := database.Publish(ctx, s.redis, "websocket:broadcast", jsonData); err != nil {
		log.Error().Err(err).Msg("Failed to publish community member update to Redis")
	}
}

func (s *Service) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	community := &models.Community{}
	err := s.db.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at
		FROM communities WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&community.ID, &community.Name, &community.OwnerID, &community.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommunityNotFound
		}
		return nil, err
	}
	return community, nil
}

// Member Management

func (s *Service) GetMember(ctx context.Context, communityID, userID uuid.UUID) (*models.CommunityMember, error) {
	member := &models.CommunityMember{}
	err := s.db.QueryRow(ctx,
		`SELECT id, community_id, user_id, role, joined_at
		FROM community_members WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	).Scan(&member.ID, &member.CommunityID, &member.UserID, &member.Role, &member.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return member, nil
}

func (s *Service) memberRoles(ctx context.Context, memberID uuid.UUID) ([]*models.Role, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.community_id, r.name, r.position, r.permissions, r.is_default, r.created_at
		FROM member_roles mr
		JOIN roles r ON r.id = mr.role_id
		WHERE mr.member_id = $1
		ORDER BY r.position DESC, r.created_at ASC`,
		memberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r := &models.Role{}
		if err := rows.Scan(&r.ID, &r.CommunityID, &r.Name, &r.Position, &r.Permissions, &r.IsDefault, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ResolveSubject returns the effective rank of userID. Non-members rank at
// the bottom; the owner outranks everyone.
func (s *Service) ResolveSubject(ctx context.Context, communityID, userID uuid.UUID) (models.Rank, error) {
	community, err := s.GetCommunity(ctx, communityID)
	if err != nil {
		return models.Rank{}, err
	}
	if community.OwnerID == userID {
		return models.Rank{Owner: true}, nil
	}

	member, err := s.GetMember(ctx, communityID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return models.Rank{}, nil
		}
		return models.Rank{}, err
	}

	roles, err := s.memberRoles(ctx, member.ID)
	if err != nil {
		return models.Rank{}, err
	}
	return models.RankFromRoles(roles), nil
}

// Platform enforcement

func (s *Service) Kick(ctx context.Context, communityID, userID uuid.UUID, reason string) error {
	if err := s.guardOwner(ctx, communityID, userID); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM community_members WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrTargetNotFound
	}

	s.broadcast(ctx, communityID, EventMemberRemove, map[string]any{"userId": userID, "reason": reason})
	return nil
}

func (s *Service) Ban(ctx context.Context, communityID, userID uuid.UUID, reason string, duration *time.Duration) error {
	if err := s.guardOwner(ctx, communityID, userID); err != nil {
		return err
	}

	var expiresAt *time.Time
	if duration != nil {
		t := time.Now().Add(*duration)
		expiresAt = &t
	}

	err := database.WithTransaction(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO community_bans (community_id, user_id, reason, expires_at)
			VALUES ($1, $2, NULLIF($3, ''), $4)
			ON CONFLICT (community_id, user_id)
			DO UPDATE SET reason = EXCLUDED.reason, expires_at = EXCLUDED.expires_at, created_at = NOW()`,
			communityID, userID, reason, expiresAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM community_members WHERE community_id = $1 AND user_id = $2`,
			communityID, userID,
		)
		return err
	})
	if err != nil {
		return classify(err)
	}

	s.broadcast(ctx, communityID, EventMemberRemove, map[string]any{"userId": userID, "reason": reason, "banned": true})
	return nil
}

func (s *Service) Unban(ctx context.Context, communityID, userID uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM community_bans WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return moderation.ErrTargetNotFound
	}
	return nil
}

func (s *Service) AssignRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error {
	member, err := s.enforceableMember(ctx, communityID, userID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO member_roles (member_id, role_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		member.ID, roleID,
	)
	if err != nil {
		return classify(err)
	}

	s.broadcast(ctx, communityID, EventMemberUpdate, map[string]any{"userId": userID, "addedRole": roleID})
	return nil
}

func (s *Service) RemoveRole(ctx context.Context, communityID, userID, roleID uuid.UUID) error {
	member, err := s.enforceableMember(ctx, communityID, userID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`DELETE FROM member_roles WHERE member_id = $1 AND role_id = $2`,
		member.ID, roleID,
	)
	if err != nil {
		return classify(err)
	}

	s.broadcast(ctx, communityID, EventMemberUpdate, map[string]any{"userId": userID, "removedRole": roleID})
	return nil
}

// MuteRole returns the community's mute role, creating it on first use.
// Concurrent creators converge on the oldest role with the name.
func (s *Service) MuteRole(ctx context.Context, communityID uuid.UUID) (uuid.UUID, error) {
	roleID, err := s.findRole(ctx, communityID, s.muteRoleName)
	if err == nil {
		return roleID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, classify(err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO roles (id, community_id, name, permissions, is_default, position, created_at)
		VALUES ($1, $2, $3, $4, FALSE, 0, NOW())`,
		uuid.New(), communityID, s.muteRoleName, models.PermissionViewChannels,
	)
	if err != nil {
		return uuid.Nil, classify(err)
	}

	roleID, err = s.findRole(ctx, communityID, s.muteRoleName)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	log.Info().Str("communityId", communityID.String()).Str("roleId", roleID.String()).Msg("Created mute role")
	return roleID, nil
}

func (s *Service) findRole(ctx context.Context, communityID uuid.UUID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT id FROM roles WHERE community_id = $1 AND name = $2
		ORDER BY created_at ASC LIMIT 1`,
		communityID, name,
	).Scan(&id)
	return id, err
}

func (s *Service) enforceableMember(ctx context.Context, communityID, userID uuid.UUID) (*models.CommunityMember, error) {
	if err := s.guardOwner(ctx, communityID, userID); err != nil {
		return nil, err
	}
	member, err := s.GetMember(ctx, communityID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return nil, moderation.ErrTargetNotFound
		}
		return nil, classify(err)
	}
	return member, nil
}

// guardOwner refuses enforcement against the community owner.
func (s *Service) guardOwner(ctx context.Context, communityID, userID uuid.UUID) error {
	community, err := s.GetCommunity(ctx, communityID)
	if err != nil {
		if errors.Is(err, ErrCommunityNotFound) {
			return moderation.ErrTargetNotFound
		}
		return classify(err)
	}
	if community.OwnerID == userID {
		return moderation.ErrMissingPermission
	}
	return nil
}

// classify maps persistence errors onto the platform error kinds.
func classify(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %v", moderation.ErrTargetNotFound, err)
	case errors.As(err, &pgErr) && pgErr.Code == "42501":
		return fmt.Errorf("%w: %v", moderation.ErrMissingPermission, err)
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		// foreign key violation: the user or role no longer exists
		return fmt.Errorf("%w: %v", moderation.ErrTargetNotFound, err)
	default:
		return err
	}
}

// Permission helpers

func (s *Service) RequirePermission(ctx context.Context, communityID, userID uuid.UUID, permission int64) error {
	return s.requirePermission(ctx, communityID, userID, permission)
}

func (s *Service) requirePermission(ctx context.Context, communityID, userID uuid.UUID, permission int64) error {
	member, err := s.GetMember(ctx, communityID, userID)
	if err != nil {
		return err
	}

	// Owner has all permissions
	community, err := s.GetCommunity(ctx, communityID)
	if err != nil {
		return err
	}
	if community.OwnerID == userID {
		return nil
	}

	// Admin role has all permissions
	if member.Role == models.MemberRoleAdmin || member.Role == models.MemberRoleOwner {
		return nil
	}

	// Check specific permissions via roles
	var userPermissions int64
	err = s.db.QueryRow(ctx,
		`SELECT COALESCE(BIT_OR(r.permissions), 0)
		FROM member_roles mr
		JOIN roles r ON r.id = mr.role_id
		WHERE mr.member_id = $1`,
		member.ID,
	).Scan(&userPermissions)
	if err != nil || userPermissions == 0 {
		// If no roles assigned, use default role permissions
		err = s.db.QueryRow(ctx,
			`SELECT permissions FROM roles WHERE community_id = $1 AND is_default = TRUE`,
			communityID,
		).Scan(&userPermissions)
		if err != nil {
			return ErrInsufficientPerms
		}
	}

	if !models.HasPermission(userPermissions, permission) {
		return ErrInsufficientPerms
	}

	return nil
}
