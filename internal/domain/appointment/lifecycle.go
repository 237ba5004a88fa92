package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/notification"
)

// UpdateStatus moves an appointment to status. Any value in the status enum
// is accepted from any state; only the assigned doctor or an admin may call
// it. notes, when given, are appended to the doctor notes.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, status, notes string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, a) {
		return nil, ErrAccessDenied
	}

	previous := a.Status
	a.Status = status
	if notes = strings.TrimSpace(notes); notes != "" {
		if a.DoctorNotes == "" {
			a.DoctorNotes = notes
		} else {
			a.DoctorNotes += "\n" + notes
		}
	}
	if err := s.appts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	patient, doctor, err := s.participants(ctx, a)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skip status notification")
	}
	a.Patient, a.Doctor = partyOf(patient), partyOf(doctor)

	if previous != status {
		s.logger.Info().
			Str("appointment_id", a.ID.String()).
			Str("from", previous).
			Str("to", status).
			Msg("appointment status changed")

		data := templateData(a, patient, doctor)
		data["previousStatus"] = previous
		data["notes"] = notes
		s.notify(ctx, a, notification.TemplateStatusUpdate, patient, data)
		s.publish(ctx, EventStatusChanged, a, map[string]string{"status": status, "previousStatus": previous})
	}
	return a, nil
}

type RescheduleInput struct {
	Date   time.Time
	Time   string
	Reason string
}

// Reschedule moves the appointment to a new slot and sends it back to
// pending. Its current slot never conflicts with itself.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	clock, err := NormalizeTime(in.Time)
	if err != nil {
		return nil, err
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrAccessDenied
	}

	free, err := s.slotFree(ctx, a.DoctorID, in.Date, clock, &a.ID)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, ErrSlotUnavailable
	}

	now := s.now().UTC()
	by := actor.ID
	a.RescheduledFrom = &RescheduleRecord{Date: a.Date, Time: a.Time, Reason: in.Reason}
	a.RescheduledBy = &by
	a.RescheduledAt = &now
	a.Date = Day(in.Date)
	a.Time = clock
	a.Status = StatusPending
	if err := s.appts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	patient, doctor, err := s.participants(ctx, a)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skip reschedule notification")
	}
	a.Patient, a.Doctor = partyOf(patient), partyOf(doctor)

	data := templateData(a, patient, doctor)
	data["previousDate"] = a.RescheduledFrom.Date.Format(DateLayout)
	data["previousTime"] = a.RescheduledFrom.Time
	data["reason"] = in.Reason
	s.notify(ctx, a, notification.TemplateRescheduled, patient, data)
	s.notify(ctx, a, notification.TemplateRescheduled, doctor, data)
	s.publish(ctx, EventRescheduled, a, a)
	return a, nil
}

// Cancel marks the appointment cancelled, freeing its slot. It is allowed
// from every state.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrAccessDenied
	}

	now := s.now().UTC()
	by := actor.ID
	a.Status = StatusCancelled
	a.CancellationReason = reason
	a.CancelledBy = &by
	a.CancelledAt = &now
	if err := s.appts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	patient, doctor, err := s.participants(ctx, a)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skip cancel notification")
	}
	a.Patient, a.Doctor = partyOf(patient), partyOf(doctor)

	data := templateData(a, patient, doctor)
	data["reason"] = reason
	data["cancelledBy"] = cancellerName(actor, patient, doctor)
	s.notify(ctx, a, notification.TemplateCancelled, patient, data)
	s.notify(ctx, a, notification.TemplateCancelled, doctor, data)
	s.publish(ctx, EventCancelled, a, map[string]string{"reason": reason, "cancelledBy": by.String()})
	return a, nil
}

func cancellerName(actor Actor, patient, doctor *identity.User) string {
	switch {
	case patient != nil && actor.ID == patient.ID:
		return patient.Name
	case doctor != nil && actor.ID == doctor.ID:
		return "Dr. " + doctor.Name
	default:
		return "an administrator"
	}
}

// Rate records the patient's rating of a completed appointment and refreshes
// the doctor's aggregate. A later rating replaces the earlier one.
func (s *Service) Rate(ctx context.Context, actor Actor, id uuid.UUID, rating int, review string) (*Appointment, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRate(actor, a) {
		return nil, ErrAccessDenied
	}
	if a.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}

	now := s.now().UTC()
	a.Rating = &rating
	a.Review = review
	a.ReviewDate = &now

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.appts.Update(ctx, a); err != nil {
			return fmt.Errorf("save rating: %w", err)
		}
		avg, n, err := s.appts.RatingSummary(ctx, a.DoctorID)
		if err != nil {
			return err
		}
		if err := s.users.UpdateDoctorRating(ctx, a.DoctorID, avg, n); err != nil {
			return fmt.Errorf("update doctor rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventRated, a, map[string]int{"rating": rating})
	return a, nil
}

// NotesInput carries a partial update; nil fields are left untouched.
type NotesInput struct {
	Diagnosis *string
	Treatment *string
	FollowUp  *string
	Signature *string
}

func (s *Service) UpdateNotes(ctx context.Context, actor Actor, id uuid.UUID, in NotesInput) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, a) {
		return nil, ErrAccessDenied
	}

	if in.Diagnosis != nil {
		a.Diagnosis = *in.Diagnosis
	}
	if in.Treatment != nil {
		a.Treatment = *in.Treatment
	}
	if in.FollowUp != nil {
		a.FollowUp = *in.FollowUp
	}
	if in.Signature != nil {
		a.Signature = *in.Signature
	}
	if err := s.appts.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	if err := s.populate(ctx, a); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("populate participants")
	}
	s.publish(ctx, EventNotesUpdated, a, a)
	return a, nil
}
