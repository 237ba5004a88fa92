package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User is a patient, doctor or administrator known to the directory.
// Doctor-only fields are zero for other roles.
type User struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"isVerified"`
	IsActive   bool      `json:"isActive"`

	Specialization  string          `json:"specialization,omitempty"`
	ConsultationFee decimal.Decimal `json:"consultationFee"`
	Rating          float64         `json:"rating"`
	TotalReviews    int             `json:"totalReviews"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsBookableDoctor reports whether patients may book this user.
func (u *User) IsBookableDoctor() bool {
	return u.Role == RoleDoctor && u.IsVerified && u.IsActive
}

// DoctorFilter narrows the public doctor listing.
type DoctorFilter struct {
	Specialization string
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
