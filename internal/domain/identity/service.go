package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validRoles = map[string]bool{
	RolePatient: true, RoleDoctor: true, RoleAdmin: true,
}

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !validRoles[u.Role] {
		return fmt.Errorf("invalid role: %s", u.Role)
	}
	if u.ConsultationFee.IsNegative() {
		return fmt.Errorf("consultation fee must not be negative")
	}
	if u.Role != RoleDoctor {
		u.Specialization = ""
		u.ConsultationFee = decimal.Zero
	}
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUsers resolves a batch of ids. Unknown ids are absent from the result.
func (s *Service) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*User, error) {
	users, err := s.users.GetByIDs(ctx, unique(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// GetDoctor returns a doctor visible in the public directory.
func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsBookableDoctor() {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*User, int, error) {
	return s.users.ListDoctors(ctx, f, limit, offset)
}

func (s *Service) UpdateDoctorRating(ctx context.Context, id uuid.UUID, rating float64, totalReviews int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating out of range: %v", rating)
	}
	if totalReviews < 0 {
		return fmt.Errorf("total reviews must not be negative")
	}
	return s.users.UpdateRating(ctx, id, rating, totalReviews)
}

func unique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
