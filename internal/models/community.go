package models

import (
	"time"

	"github.com/google/uuid"
)

type MemberRole string

const (
	MemberRoleOwner     MemberRole = "owner"
	MemberRoleAdmin     MemberRole = "admin"
	MemberRoleModerator MemberRole = "moderator"
	MemberRoleMember    MemberRole = "member"
)

type Community struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   uuid.UUID `json:"ownerId" db:"owner_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type CommunityMember struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	CommunityID uuid.UUID  `json:"communityId" db:"community_id"`
	UserID      uuid.UUID  `json:"userId" db:"user_id"`
	Role        MemberRole `json:"role" db:"role"`
	JoinedAt    time.Time  `json:"joinedAt" db:"joined_at"`
}

type Role struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CommunityID uuid.UUID `json:"communityId" db:"community_id"`
	Name        string    `json:"name" db:"name"`
	Position    int       `json:"position" db:"position"`
	Permissions int64     `json:"permissions" db:"permissions"`
	IsDefault   bool      `json:"isDefault" db:"is_default"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Permission flags (bitfield)
const (
	PermissionViewChannels    int64 = 1 << 0
	PermissionSendMessages    int64 = 1 << 1
	PermissionManageMessages  int64 = 1 << 2
	PermissionManageChannels  int64 = 1 << 3
	PermissionManageCommunity int64 = 1 << 4
	PermissionManageRoles     int64 = 1 << 5
	PermissionKickMembers     int64 = 1 << 6
	PermissionBanMembers      int64 = 1 << 7
	PermissionCreateInvites   int64 = 1 << 8
	PermissionAttachFiles     int64 = 1 << 9
	PermissionAddReactions    int64 = 1 << 10
	PermissionMentionEveryone int64 = 1 << 11
	PermissionPinMessages     int64 = 1 << 12
	PermissionManageWebhooks  int64 = 1 << 13
	PermissionViewAuditLog    int64 = 1 << 14
	PermissionAdministrator   int64 = 1 << 15
	PermissionModerateMembers int64 = 1 << 16
)

func HasPermission(userPermissions, required int64) bool {
	// Administrators have all permissions
	if userPermissions&PermissionAdministrator != 0 {
		return true
	}
	return userPermissions&required == required
}
