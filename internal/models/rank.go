package models

import "time"

// Rank is a member's effective precedence in a community, taken from their
// highest role. Owner outranks every role.
type Rank struct {
	Owner    bool      `json:"owner,omitempty"`
	Position int       `json:"position"`
	Since    time.Time `json:"since"` // creation time of the role the rank comes from
}

// Compare returns 1 if r outranks o, -1 if o outranks r and 0 on a tie.
// Equal positions are broken by role age: the older role ranks higher.
func (r Rank) Compare(o Rank) int {
	switch {
	case r.Owner && o.Owner:
		return 0
	case r.Owner:
		return 1
	case o.Owner:
		return -1
	case r.Position > o.Position:
		return 1
	case r.Position < o.Position:
		return -1
	}
	switch {
	case r.Since.IsZero() || o.Since.IsZero() || r.Since.Equal(o.Since):
		return 0
	case r.Since.Before(o.Since):
		return 1
	default:
		return -1
	}
}

// Outranks reports whether r is strictly above o.
func (r Rank) Outranks(o Rank) bool {
	return r.Compare(o) > 0
}

// RankFromRoles picks the highest-precedence role.
func RankFromRoles(roles []*Role) Rank {
	var best Rank
	found := false
	for _, role := range roles {
		candidate := Rank{Position: role.Position, Since: role.CreatedAt}
		if !found || candidate.Outranks(best) {
			best = candidate
			found = true
		}
	}
	return best
}
