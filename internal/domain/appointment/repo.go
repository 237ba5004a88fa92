package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows appointment listings. Nil and empty fields do not filter.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Statuses  []string
	Type      string
	Mode      string
	From      *time.Time
	// FromTime, with From, drops appointments on the From day that start
	// before this HH:MM clock.
	FromTime string
	To        *time.Time
	// Ascending sorts by date then time, oldest first. The default is
	// newest first.
	Ascending bool
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	// GetByID loads the appointment with its messages.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update saves every field except messages.
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
	CountByStatus(ctx context.Context, f Filter) (map[string]int, error)
	// HasConflict reports whether a non-cancelled appointment other than
	// excludeID holds the doctor's slot.
	HasConflict(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error)
	// RatingSummary returns the mean and count of the doctor's rated appointments.
	RatingSummary(ctx context.Context, doctorID uuid.UUID) (float64, int, error)

	AddMessage(ctx context.Context, appointmentID uuid.UUID, m *Message) error
	MarkMessagesRead(ctx context.Context, appointmentID, userID uuid.UUID) (int, error)
	DeleteMessage(ctx context.Context, appointmentID, messageID uuid.UUID) error
}

// Transactor runs fn atomically where the store supports it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
