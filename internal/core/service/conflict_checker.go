package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

// ConflictChecker finds active reservations of a provider that overlap a
// candidate interval. It never writes.
type ConflictChecker struct {
	repo ports.ReservationRepository
}

func NewConflictChecker(repo ports.ReservationRepository) *ConflictChecker {
	return &ConflictChecker{repo: repo}
}

// FindConflicts returns every pending or accepted reservation of providerID
// overlapping candidate, except excludeID. An empty result means the slot
// is free.
func (c *ConflictChecker) FindConflicts(ctx context.Context, providerID string, candidate domain.Interval, excludeID string) ([]domain.Reservation, error) {
	found, err := c.repo.FindActiveByProvider(ctx, providerID, candidate)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}

	// The store query is only a pre-filter; Overlaps decides.
	conflicts := make([]domain.Reservation, 0, len(found))
	for _, r := range found {
		if r.ID == excludeID && excludeID != "" {
			continue
		}
		if r.ProviderID != providerID || !r.Status.IsActive() {
			continue
		}
		if domain.Overlaps(r.Interval(), candidate) {
			conflicts = append(conflicts, r)
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Start.Before(conflicts[j].Start)
	})
	return conflicts, nil
}
