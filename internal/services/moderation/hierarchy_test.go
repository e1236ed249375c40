package moderation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/zentra/warden/internal/models"
)

func TestPolicyCheck(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	young := old.Add(24 * time.Hour)

	superuser := uuid.New()
	immune := uuid.New()
	policy := NewPolicy([]uuid.UUID{superuser}, []uuid.UUID{immune})

	system := Subject{ID: uuid.New(), Rank: models.Rank{Position: 50}}
	self := uuid.New()

	tests := []struct {
		name   string
		req    CheckRequest
		reason DenyReason
	}{
		{
			name: "higher rank may kick",
			req: CheckRequest{
				Actor:  member(10),
				Target: member(5),
				Action: models.ActionKick,
			},
		},
		{
			name: "self target denied even for owner",
			req: CheckRequest{
				Actor:  Subject{ID: self, Rank: models.Rank{Owner: true}},
				Target: Subject{ID: self, Rank: models.Rank{Owner: true}},
				Action: models.ActionWarn,
			},
			reason: DenySelf,
		},
		{
			name: "equal rank denied",
			req: CheckRequest{
				Actor:  member(5),
				Target: member(5),
				Action: models.ActionWarn,
			},
			reason: DenyRank,
		},
		{
			name: "older role wins a position tie",
			req: CheckRequest{
				Actor:  Subject{ID: uuid.New(), Rank: models.Rank{Position: 5, Since: old}},
				Target: Subject{ID: uuid.New(), Rank: models.Rank{Position: 5, Since: young}},
				Action: models.ActionWarn,
			},
		},
		{
			name: "younger role loses a position tie",
			req: CheckRequest{
				Actor:  Subject{ID: uuid.New(), Rank: models.Rank{Position: 5, Since: young}},
				Target: Subject{ID: uuid.New(), Rank: models.Rank{Position: 5, Since: old}},
				Action: models.ActionWarn,
			},
			reason: DenyRank,
		},
		{
			name: "owner outranks any role",
			req: CheckRequest{
				Actor:  Subject{ID: uuid.New(), Rank: models.Rank{Owner: true}},
				Target: member(1000),
				Action: models.ActionWarn,
			},
		},
		{
			name: "immune target denied",
			req: CheckRequest{
				Actor:  member(10),
				Target: Subject{ID: immune, Rank: models.Rank{Position: 1}},
				Action: models.ActionWarn,
			},
			reason: DenyImmune,
		},
		{
			name: "override without superuser still denied",
			req: CheckRequest{
				Actor:    member(10),
				Target:   Subject{ID: immune, Rank: models.Rank{Position: 1}},
				Action:   models.ActionWarn,
				Override: true,
			},
			reason: DenyImmune,
		},
		{
			name: "superuser override bypasses immunity",
			req: CheckRequest{
				Actor:    Subject{ID: superuser, Rank: models.Rank{Position: 10}},
				Target:   Subject{ID: immune, Rank: models.Rank{Position: 1}},
				Action:   models.ActionWarn,
				Override: true,
			},
		},
		{
			name: "superuser override does not bypass rank",
			req: CheckRequest{
				Actor:    Subject{ID: superuser, Rank: models.Rank{Position: 1}},
				Target:   member(10),
				Action:   models.ActionWarn,
				Override: true,
			},
			reason: DenyRank,
		},
		{
			name: "system below target cannot mute",
			req: CheckRequest{
				Actor:  Subject{ID: uuid.New(), Rank: models.Rank{Owner: true}},
				Target: member(60),
				System: system,
				Action: models.ActionMute,
			},
			reason: DenySystem,
		},
		{
			name: "system standing not needed for warn",
			req: CheckRequest{
				Actor:  Subject{ID: uuid.New(), Rank: models.Rank{Owner: true}},
				Target: member(60),
				System: system,
				Action: models.ActionWarn,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.System.ID == uuid.Nil {
				tt.req.System = Subject{ID: uuid.New(), Rank: models.Rank{Owner: true}}
			}
			d := policy.Check(tt.req)
			if tt.reason == "" {
				assert.True(t, d.Allowed)
				return
			}
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestPolicyCheckSurface(t *testing.T) {
	req := CheckRequest{Actor: member(1), Target: member(2), Action: models.ActionWarn}

	d := NewPolicy(nil, nil).Check(req)
	assert.False(t, d.Allowed)
	assert.False(t, d.Surface)

	req.NotifyOnFailure = true
	d = NewPolicy(nil, nil).Check(req)
	assert.False(t, d.Allowed)
	assert.True(t, d.Surface)
}

func TestNilPolicy(t *testing.T) {
	var p *Policy
	assert.False(t, p.IsSuperuser(uuid.New()))
	assert.False(t, p.IsImmune(uuid.New()))
	assert.True(t, p.Check(CheckRequest{
		Actor:  member(2),
		Target: member(1),
		System: Subject{Rank: models.Rank{Owner: true}},
		Action: models.ActionKick,
	}).Allowed)
}
