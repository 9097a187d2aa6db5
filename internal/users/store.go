package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-restaurant/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Directory resolves user ids to their stored identity.
type Directory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Store reads users from the database.
type Store struct {
	Bun *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{Bun: db}
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	user := new(models.User)
	err := s.Bun.NewSelect().Model(user).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Save inserts or replaces a user.
func (s *Store) Save(ctx context.Context, user *models.User) error {
	_, err := s.Bun.NewInsert().
		Model(user).
		On("CONFLICT (id) DO UPDATE").
		Set("full_name = EXCLUDED.full_name").
		Set("role = EXCLUDED.role").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}
