package domain

import "fmt"

// ReservationScope restricts which reservations a caller may list.
// All=true means no restriction; otherwise a record matches when its
// ClientID equals ClientID or its ProviderID equals ProviderID (empty
// fields never match).
type ReservationScope struct {
	All        bool
	ClientID   string
	ProviderID string
}

// Matches reports whether r falls within the scope.
func (s ReservationScope) Matches(r *Reservation) bool {
	if s.All {
		return true
	}
	return (s.ClientID != "" && r.ClientID == s.ClientID) ||
		(s.ProviderID != "" && r.ProviderID == s.ProviderID)
}

func forbidden(action string) error {
	return fmt.Errorf("%w: not allowed to %s this reservation", ErrForbidden, action)
}

// CanCreate: clients book for themselves; admins may book on their own behalf.
func CanCreate(id Identity) error {
	if !id.Roles.HasAny(RoleClient, RoleAdmin) {
		return fmt.Errorf("%w: client role required to book", ErrForbidden)
	}
	return nil
}

// ListScope derives the listing scope for id.
func ListScope(id Identity) (ReservationScope, error) {
	if id.IsAdmin() {
		return ReservationScope{All: true}, nil
	}
	var scope ReservationScope
	if id.Roles.Has(RoleClient) {
		scope.ClientID = id.UserID
	}
	if id.Roles.Has(RoleProvider) {
		scope.ProviderID = id.UserID
	}
	if scope.ClientID == "" && scope.ProviderID == "" {
		return ReservationScope{}, fmt.Errorf("%w: no role grants access to reservations", ErrForbidden)
	}
	return scope, nil
}

// NarrowScope restricts a scope to the caller acting as the given role.
// Admins narrowing to a role see their own reservations in that role.
func NarrowScope(id Identity, as Role) (ReservationScope, error) {
	if !id.IsAdmin() && !id.Roles.Has(as) {
		return ReservationScope{}, fmt.Errorf("%w: %s role required", ErrForbidden, as)
	}
	switch as {
	case RoleClient:
		return ReservationScope{ClientID: id.UserID}, nil
	case RoleProvider:
		return ReservationScope{ProviderID: id.UserID}, nil
	}
	return ReservationScope{}, fmt.Errorf("%w: cannot list reservations as %q", ErrValidation, as)
}

// CanRead: admin or one of the two parties.
func CanRead(id Identity, r *Reservation) error {
	if id.IsAdmin() || r.ClientID == id.UserID || r.ProviderID == id.UserID {
		return nil
	}
	return forbidden("read")
}

// CanEdit covers start, duration and note changes: admin or the client.
func CanEdit(id Identity, r *Reservation) error {
	if id.IsAdmin() || r.ClientID == id.UserID {
		return nil
	}
	return forbidden("modify")
}

// CanDecide covers accept and reject: admin or the provider.
func CanDecide(id Identity, r *Reservation) error {
	if id.IsAdmin() || (r.ProviderID == id.UserID && id.Roles.Has(RoleProvider)) {
		return nil
	}
	return forbidden("accept or reject")
}

// CanCancel: admin or the client.
func CanCancel(id Identity, r *Reservation) error {
	if id.IsAdmin() || r.ClientID == id.UserID {
		return nil
	}
	return forbidden("cancel")
}

// CanHardDelete: admin only.
func CanHardDelete(id Identity) error {
	if !id.IsAdmin() {
		return forbidden("delete")
	}
	return nil
}

// CanChangeStatus dispatches to the rule guarding a transition to next.
func CanChangeStatus(id Identity, r *Reservation, next Status) error {
	switch next {
	case StatusAccepted, StatusRejected:
		return CanDecide(id, r)
	case StatusCancelled:
		return CanCancel(id, r)
	}
	return fmt.Errorf("%w (to %s)", ErrInvalidTransition, next)
}
