package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByIDs returns the users that exist; missing ids are skipped.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error)
	// ListDoctors returns verified, active doctors ordered by rating.
	ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*User, int, error)
	UpdateRating(ctx context.Context, id uuid.UUID, rating float64, totalReviews int) error
}
