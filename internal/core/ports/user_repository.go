package ports

import (
	"context"

	"github.com/99minutos/reservation-system/internal/core/domain"
)

// UserRepository resolves users referenced by reservations.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create stores a new user and returns it with its assigned id.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	// AddRole grants role to an existing user.
	AddRole(ctx context.Context, id string, role domain.Role) error
}
