package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is a capability granted to a user by the external Auth service.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleProvider Role = "provider"
	RoleClient   Role = "client"
)

// legacyRoleNames maps role names issued by older tokens.
var legacyRoleNames = map[string]Role{
	"cleaner": RoleProvider,
}

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch r := Role(name); r {
	case RoleAdmin, RoleProvider, RoleClient:
		return r, nil
	}
	if r, ok := legacyRoleNames[name]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// RoleSet is an immutable-by-convention set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// ParseRoles builds a RoleSet from raw names, skipping unknown ones.
func ParseRoles(names []string) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			set[r] = struct{}{}
		}
	}
	return set
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether at least one of roles is in the set.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the roles sorted by name.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted role names.
func (s RoleSet) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// User models a person known to the identity provider. The reservation core
// only reads ID and Roles; PasswordHash is written by admin provisioning.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	Roles        RoleSet   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the verified caller attached to a request.
type Identity struct {
	UserID string
	Roles  RoleSet
}

// IsAdmin is shorthand for Roles.Has(RoleAdmin).
func (i Identity) IsAdmin() bool {
	return i.Roles.Has(RoleAdmin)
}
