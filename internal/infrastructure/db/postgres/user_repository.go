package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

var _ ports.UserRepository = (*UserRepository)(nil)

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE id=$1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE email=$1`, strings.ToLower(email))
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	created := *user
	created.ID = uuid.NewString()
	created.Email = strings.ToLower(user.Email)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, roles, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		created.ID, created.Email, created.Name, created.PasswordHash, created.Roles.Strings(),
		created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		return nil, mapWriteErr("insert user", err)
	}
	return &created, nil
}

func (r *UserRepository) AddRole(ctx context.Context, id string, role domain.Role) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET roles = CASE WHEN $2 = ANY(roles) THEN roles ELSE array_append(roles, $2) END,
		    updated_at = now()
		WHERE id=$1`, id, string(role))
	if err != nil {
		return fmt.Errorf("add role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		u     domain.User
		email *string
		roles []string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, roles, created_at, updated_at
		FROM users `+where, arg,
	).Scan(&u.ID, &email, &u.Name, &u.PasswordHash, &roles, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if email != nil {
		u.Email = *email
	}
	u.Roles = domain.ParseRoles(roles)
	return &u, nil
}
