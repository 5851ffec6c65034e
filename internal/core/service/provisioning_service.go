package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

const minAdminPasswordLength = 8

// ProvisioningService seeds privileged accounts outside request handling.
type ProvisioningService struct {
	users     ports.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	clock     ports.Clock
	logger    zerolog.Logger
}

func NewProvisioningService(users ports.UserRepository, jwtSecret string, tokenTTL time.Duration, logger zerolog.Logger) *ProvisioningService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &ProvisioningService{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		clock:     systemClock{},
		logger:    logger,
	}
}

// EnsureAdmin makes sure a user with the given email exists and holds the
// admin role. Running it again is harmless: created reports whether a new
// user was stored.
func (s *ProvisioningService) EnsureAdmin(ctx context.Context, email, password string) (*domain.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, false, fmt.Errorf("%w: invalid admin email %q", domain.ErrValidation, email)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Roles.Has(domain.RoleAdmin) {
			s.logger.Info().Str("user_id", existing.ID).Msg("admin already provisioned")
			return existing, false, nil
		}
		if err := s.users.AddRole(ctx, existing.ID, domain.RoleAdmin); err != nil {
			return nil, false, storageErr("grant admin role", err)
		}
		roles := domain.NewRoleSet(domain.RoleAdmin)
		for r := range existing.Roles {
			roles[r] = struct{}{}
		}
		existing.Roles = roles
		s.logger.Info().Str("user_id", existing.ID).Msg("admin role granted to existing user")
		return existing, false, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, false, storageErr("find admin", err)
	}

	if len(password) < minAdminPasswordLength {
		return nil, false, fmt.Errorf("%w: admin password must be at least %d characters", domain.ErrValidation, minAdminPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash admin password: %w", err)
	}

	now := s.clock.Now().UTC()
	created, err := s.users.Create(ctx, &domain.User{
		Email:        email,
		Name:         "Administrator",
		PasswordHash: string(hash),
		Roles:        domain.NewRoleSet(domain.RoleAdmin),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, false, storageErr("create admin", err)
	}

	s.logger.Info().Str("user_id", created.ID).Str("email", email).Msg("admin provisioned")
	return created, true, nil
}

// IssueToken signs an HS256 bearer token for user carrying its id and roles.
func (s *ProvisioningService) IssueToken(user *domain.User) (string, error) {
	if s.jwtSecret == "" {
		return "", fmt.Errorf("%w: jwt secret is not configured", domain.ErrValidation)
	}
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"name":  user.Name,
		"roles": user.Roles.Strings(),
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}
