package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

const (
	TypeConsultation   = "consultation"
	TypeFollowUp       = "follow_up"
	TypeEmergency      = "emergency"
	TypeRoutineCheckup = "routine_checkup"
	TypeVaccination    = "vaccination"
)

const (
	ModeInPerson  = "in_person"
	ModeVideoCall = "video_call"
	ModeChat      = "chat"
)

const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

const PaymentPending = "pending"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Appointment struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID `json:"doctorId"`

	// Date is the calendar day at UTC midnight; Time is "HH:MM".
	Date     time.Time `json:"date"`
	Time     string    `json:"time"`
	Duration int       `json:"duration"`
	Type     string    `json:"type"`
	Mode     string    `json:"mode"`
	Status   string    `json:"status"`

	Symptoms     []string `json:"symptoms"`
	PatientNotes string   `json:"patientNotes,omitempty"`
	DoctorNotes  string   `json:"doctorNotes,omitempty"`
	Diagnosis    string   `json:"diagnosis,omitempty"`
	Treatment    string   `json:"treatment,omitempty"`
	FollowUp     string   `json:"followUp,omitempty"`
	Signature    string   `json:"signature,omitempty"`

	ConsultationFee decimal.Decimal `json:"consultationFee"`
	Payment         Payment         `json:"payment"`

	RescheduledFrom *RescheduleRecord `json:"rescheduledFrom,omitempty"`
	RescheduledBy   *uuid.UUID        `json:"rescheduledBy,omitempty"`
	RescheduledAt   *time.Time        `json:"rescheduledAt,omitempty"`

	CancellationReason string     `json:"cancellationReason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelledBy,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`

	Rating     *int       `json:"rating,omitempty"`
	Review     string     `json:"review,omitempty"`
	ReviewDate *time.Time `json:"reviewDate,omitempty"`

	Messages []Message `json:"messages,omitempty"`

	// Display fields, filled from the user directory on read.
	Patient *Party `json:"patient,omitempty"`
	Doctor  *Party `json:"doctor,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Payment struct {
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TransactionID string          `json:"transactionId,omitempty"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
}

// RescheduleRecord is the slot an appointment held before its last reschedule.
type RescheduleRecord struct {
	Date   time.Time `json:"date"`
	Time   string    `json:"time"`
	Reason string    `json:"reason,omitempty"`
}

// Party is the public view of a patient or doctor on an appointment.
type Party struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
}

type Message struct {
	ID        uuid.UUID   `json:"id"`
	SenderID  uuid.UUID   `json:"senderId"`
	Message   string      `json:"message"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ReadBy    []uuid.UUID `json:"readBy"`
}

// IsReadBy reports whether userID has seen the message.
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (a *Appointment) FindMessage(id uuid.UUID) (*Message, bool) {
	for i := range a.Messages {
		if a.Messages[i].ID == id {
			return &a.Messages[i], true
		}
	}
	return nil, false
}

// MarkReadBy adds userID to every message it has not read and returns how
// many messages changed.
func (a *Appointment) MarkReadBy(userID uuid.UUID) int {
	n := 0
	for i := range a.Messages {
		if !a.Messages[i].IsReadBy(userID) {
			a.Messages[i].ReadBy = append(a.Messages[i].ReadBy, userID)
			n++
		}
	}
	return n
}

func (a *Appointment) RemoveMessage(id uuid.UUID) bool {
	for i := range a.Messages {
		if a.Messages[i].ID == id {
			a.Messages = append(a.Messages[:i], a.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// IsParticipant reports whether userID is the patient or doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

// DateString formats Date as YYYY-MM-DD.
func (a *Appointment) DateString() string {
	return a.Date.Format(DateLayout)
}

// ParseDate reads a YYYY-MM-DD day as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return d, nil
}

// NormalizeTime canonicalizes a clock time to zero-padded HH:MM, so that
// "9:00" and "09:00" name the same slot.
func NormalizeTime(s string) (string, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: time must be HH:MM", ErrInvalidInput)
	}
	return t.Format(TimeLayout), nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
