package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

func TestBookingLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, f.patient, "2024-06-01", "10:00")
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if !a.ConsultationFee.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected fee 50, got %s", a.ConsultationFee)
	}
	if a.Payment.Status != PaymentPending || !a.Payment.Amount.Equal(a.ConsultationFee) || a.Payment.Currency != "usd" {
		t.Errorf("unexpected payment %+v", a.Payment)
	}
	if a.Doctor == nil || a.Doctor.Name != "Dana Doctor" || a.Patient == nil || a.Patient.Name != "Pat Patient" {
		t.Errorf("expected display fields populated, got patient=%+v doctor=%+v", a.Patient, a.Doctor)
	}

	confirmed, err := f.svc.UpdateStatus(ctx, actorOfUser(f.doctor), a.ID, StatusConfirmed, "")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}
	f.svc.Wait()
	var statusMail bool
	for _, c := range f.mailTo(f.patient.Email) {
		if strings.Contains(c.Subject, "confirmed") {
			statusMail = true
		}
	}
	if !statusMail {
		t.Error("expected a status-update email to the patient")
	}

	cancelled, err := f.svc.Cancel(ctx, actorOfUser(f.patient), a.ID, "schedule conflict")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != f.patient.ID {
		t.Errorf("expected cancelledBy %s, got %v", f.patient.ID, cancelled.CancelledBy)
	}
	if cancelled.CancellationReason != "schedule conflict" {
		t.Errorf("unexpected reason %q", cancelled.CancellationReason)
	}

	again := f.book(t, f.otherPatient, "2024-06-01", "10:00")
	if again.ID == a.ID {
		t.Error("expected a new appointment for the freed slot")
	}
}

func TestBook_DoubleBookingRejected(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, "2024-06-01", "10:00")

	_, err := f.svc.Book(context.Background(), actorOfUser(f.otherPatient), BookInput{
		DoctorID: f.doctor.ID, Date: mustDate(t, "2024-06-01"), Time: "10:00",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// Same slot with another doctor is fine.
	_, err = f.svc.Book(context.Background(), actorOfUser(f.otherPatient), BookInput{
		DoctorID: f.otherDoctor.ID, Date: mustDate(t, "2024-06-01"), Time: "10:00",
	})
	if err != nil {
		t.Fatalf("expected booking with another doctor to succeed: %v", err)
	}
}

func TestBook_TimeIsNormalized(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, "2024-06-01", "9:00")
	if a.Time != "09:00" {
		t.Errorf("expected 09:00, got %s", a.Time)
	}
	_, err := f.svc.Book(context.Background(), actorOfUser(f.otherPatient), BookInput{
		DoctorID: f.doctor.ID, Date: mustDate(t, "2024-06-01"), Time: "09:00",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected 9:00 and 09:00 to collide, got %v", err)
	}
}

func TestBook_Defaults(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Book(context.Background(), actorOfUser(f.patient), BookInput{
		DoctorID: f.doctor.ID, Date: mustDate(t, "2024-06-01"), Time: "11:30",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if a.Type != TypeConsultation || a.Mode != ModeVideoCall || a.Duration != 30 {
		t.Errorf("unexpected defaults type=%s mode=%s duration=%d", a.Type, a.Mode, a.Duration)
	}
	if a.Symptoms == nil {
		t.Error("expected empty symptoms slice, got nil")
	}
}

func TestBook_DoctorMustBeBookable(t *testing.T) {
	f := newFixture(t)
	unverified := f.users.add(&identity.User{Name: "U", Email: "u@example.com", Role: identity.RoleDoctor, IsActive: true})
	inactive := f.users.add(&identity.User{Name: "I", Email: "i@example.com", Role: identity.RoleDoctor, IsVerified: true})

	tests := []struct {
		name     string
		doctorID uuid.UUID
	}{
		{"unknown", uuid.New()},
		{"unverified", unverified.ID},
		{"inactive", inactive.ID},
		{"not a doctor", f.otherPatient.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), actorOfUser(f.patient), BookInput{
				DoctorID: tt.doctorID, Date: mustDate(t, "2024-06-01"), Time: "10:00",
			})
			if !errors.Is(err, ErrDoctorUnavailable) {
				t.Errorf("expected ErrDoctorUnavailable, got %v", err)
			}
		})
	}
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := BookInput{DoctorID: f.doctor.ID, Date: mustDate(t, "2024-06-01"), Time: "10:00"}

	if _, err := f.svc.Book(ctx, actorOfUser(f.doctor), base); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected doctors to be refused, got %v", err)
	}

	bad := base
	bad.Type = "surgery"
	if _, err := f.svc.Book(ctx, actorOfUser(f.patient), bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for type, got %v", err)
	}
	bad = base
	bad.Mode = "carrier_pigeon"
	if _, err := f.svc.Book(ctx, actorOfUser(f.patient), bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for mode, got %v", err)
	}
	bad = base
	bad.Time = "25:00"
	if _, err := f.svc.Book(ctx, actorOfUser(f.patient), bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for time, got %v", err)
	}

	ghost := Actor{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Book(ctx, ghost, base); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestBook_FeeFixedAtCreation(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, "2024-06-01", "10:00")

	f.users.mu.Lock()
	f.users.users[f.doctor.ID].ConsultationFee = decimal.NewFromInt(120)
	f.users.mu.Unlock()

	got, err := f.svc.Get(context.Background(), actorOfUser(f.patient), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.ConsultationFee.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected fee to stay 50, got %s", got.ConsultationFee)
	}
}

func TestBook_NotifiesBothParties(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.patient, "2024-06-01", "10:00")
	f.svc.Wait()

	if len(f.mailTo(f.patient.Email)) != 1 {
		t.Errorf("expected one email to the patient, got %d", len(f.mailTo(f.patient.Email)))
	}
	doctorMail := f.mailTo(f.doctor.Email)
	if len(doctorMail) != 1 {
		t.Fatalf("expected one email to the doctor, got %d", len(doctorMail))
	}
	if !strings.Contains(doctorMail[0].Subject, "Pat Patient") {
		t.Errorf("expected patient name in subject, got %q", doctorMail[0].Subject)
	}
}

func TestBook_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.patient, "2024-06-01", "10:00")
	f.svc.Wait()

	events := f.events.ofType(EventBooked)
	if len(events) != 3 {
		t.Fatalf("expected 3 booked events, got %d", len(events))
	}
	want := map[string]bool{}
	for _, topic := range Topics(a) {
		want[topic] = true
	}
	for _, ev := range events {
		if !want[ev.Topic] {
			t.Errorf("unexpected topic %q", ev.Topic)
		}
		if ev.AppointmentID != a.ID.String() {
			t.Errorf("unexpected appointment id %q", ev.AppointmentID)
		}
	}
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, "2024-06-01", "10:00")
	date := mustDate(t, "2024-06-01")

	free, err := f.svc.CheckAvailability(ctx, f.doctor.ID, date, "10:00", nil)
	if err != nil || free {
		t.Errorf("expected slot taken, got free=%v err=%v", free, err)
	}
	free, err = f.svc.CheckAvailability(ctx, f.doctor.ID, date, "10:00", &a.ID)
	if err != nil || !free {
		t.Errorf("expected slot free when excluding itself, got free=%v err=%v", free, err)
	}
	free, err = f.svc.CheckAvailability(ctx, f.doctor.ID, date, "10:30", nil)
	if err != nil || !free {
		t.Errorf("expected 10:30 free, got free=%v err=%v", free, err)
	}
	if _, err := f.svc.CheckAvailability(ctx, uuid.New(), date, "10:00", nil); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
	if _, err := f.svc.CheckAvailability(ctx, f.doctor.ID, date, "ten", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGet_AccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, "2024-06-01", "10:00")

	for _, u := range []*identity.User{f.patient, f.doctor, f.admin} {
		if _, err := f.svc.Get(ctx, actorOfUser(u), a.ID); err != nil {
			t.Errorf("%s: unexpected error %v", u.Name, err)
		}
	}
	for _, u := range []*identity.User{f.otherPatient, f.otherDoctor} {
		if _, err := f.svc.Get(ctx, actorOfUser(u), a.ID); !errors.Is(err, ErrAccessDenied) {
			t.Errorf("%s: expected ErrAccessDenied, got %v", u.Name, err)
		}
	}
	if _, err := f.svc.Get(ctx, actorOfUser(f.admin), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_ScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.patient, "2024-06-01", "10:00")
	f.book(t, f.patient, "2024-06-02", "10:00")
	f.book(t, f.otherPatient, "2024-06-03", "10:00")

	items, total, err := f.svc.List(ctx, actorOfUser(f.patient), Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("patient: expected 2, got total=%d len=%d", total, len(items))
	}
	if items[0].DateString() != "2024-06-02" {
		t.Errorf("expected newest first, got %s", items[0].DateString())
	}
	if items[0].Doctor == nil {
		t.Error("expected doctor display field")
	}

	// A patient cannot widen the scope by naming someone else.
	other := f.otherPatient.ID
	_, total, _ = f.svc.List(ctx, actorOfUser(f.patient), Filter{PatientID: &other}, 10, 0)
	if total != 2 {
		t.Errorf("expected scope to override patient filter, got %d", total)
	}

	_, total, _ = f.svc.List(ctx, actorOfUser(f.doctor), Filter{}, 10, 0)
	if total != 3 {
		t.Errorf("doctor: expected 3, got %d", total)
	}
	_, total, _ = f.svc.List(ctx, actorOfUser(f.otherDoctor), Filter{}, 10, 0)
	if total != 0 {
		t.Errorf("other doctor: expected 0, got %d", total)
	}
	_, total, _ = f.svc.List(ctx, actorOfUser(f.admin), Filter{PatientID: &other}, 10, 0)
	if total != 1 {
		t.Errorf("admin narrowed to patient: expected 1, got %d", total)
	}

	if _, _, err := f.svc.List(ctx, actorOfUser(f.admin), Filter{Statuses: []string{"bogus"}}, 10, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t)
	for _, clock := range []string{"09:00", "10:00", "11:00"} {
		f.book(t, f.patient, "2024-06-01", clock)
	}
	items, total, err := f.svc.List(context.Background(), actorOfUser(f.admin), Filter{Ascending: true}, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 1 || items[0].Time != "11:00" {
		t.Errorf("unexpected page: total=%d items=%d", total, len(items))
	}
}

func TestUpcoming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, f.patient, "2024-05-01", "10:00")
	started := f.book(t, f.patient, "2024-05-20", "08:00")
	first := f.book(t, f.patient, "2024-05-20", "09:30")
	f.book(t, f.patient, "2024-06-03", "10:00")
	f.book(t, f.patient, "2024-06-02", "10:00")
	done := f.book(t, f.patient, "2024-05-25", "10:00")
	f.setStatus(t, done.ID, StatusCompleted)
	for i := 4; i <= 9; i++ {
		f.book(t, f.patient, fmt.Sprintf("2024-07-%02d", i), "10:00")
	}

	items, err := f.svc.Upcoming(ctx, actorOfUser(f.patient))
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(items) != UpcomingLimit {
		t.Fatalf("expected %d items, got %d", UpcomingLimit, len(items))
	}
	if items[0].ID != first.ID {
		t.Errorf("expected today's later appointment first, got %s %s", items[0].DateString(), items[0].Time)
	}
	for _, a := range items {
		if a.ID == started.ID {
			t.Errorf("slot %s %s already started and should be excluded", a.DateString(), a.Time)
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			t.Errorf("unexpected status %s", a.Status)
		}
		if a.DateString() < "2024-05-20" {
			t.Errorf("unexpected past appointment %s", a.DateString())
		}
	}
	if items[1].DateString() != "2024-06-02" {
		t.Errorf("expected ascending order, second was %s", items[1].DateString())
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, "2024-06-01", "10:00")
	f.book(t, f.patient, "2024-06-02", "10:00")
	f.book(t, f.otherPatient, "2024-06-03", "10:00")
	f.setStatus(t, a.ID, StatusCompleted)

	st, err := f.svc.Stats(ctx, actorOfUser(f.patient), nil, nil)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 || st.ByStatus[StatusCompleted] != 1 || st.ByStatus[StatusPending] != 1 {
		t.Errorf("unexpected patient stats %+v", st)
	}
	if _, ok := st.ByStatus[StatusNoShow]; !ok {
		t.Error("expected every status to be reported")
	}

	from := mustDate(t, "2024-06-02")
	st, _ = f.svc.Stats(ctx, actorOfUser(f.admin), &from, nil)
	if st.Total != 2 {
		t.Errorf("expected 2 from 2024-06-02, got %d", st.Total)
	}
}

func TestNotificationFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mail.SetFailing(true, "smtp unavailable")

	a := f.book(t, f.patient, "2024-06-01", "10:00")
	if _, err := f.svc.UpdateStatus(ctx, actorOfUser(f.doctor), a.ID, StatusConfirmed, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, actorOfUser(f.patient), a.ID, RescheduleInput{Date: mustDate(t, "2024-06-02"), Time: "11:00"}); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, actorOfUser(f.doctor), a.ID, "sick"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.svc.Wait()

	stored := f.repo.stored(t, a.ID)
	if stored.Status != StatusCancelled || stored.DateString() != "2024-06-02" {
		t.Errorf("expected persisted cancel after reschedule, got %s on %s", stored.Status, stored.DateString())
	}
	stats := f.mgr.Stats(ctx)
	if stats[notification.StatusFailed] == 0 || stats[notification.StatusSent] != 0 {
		t.Errorf("expected only failed deliveries, got %v", stats)
	}
}

type blockingNotifier struct{ release chan struct{} }

func (b *blockingNotifier) Notify(ctx context.Context, _, _ string, _ map[string]string) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestBook_DoesNotWaitForNotifications(t *testing.T) {
	f := newFixture(t)
	n := &blockingNotifier{release: make(chan struct{})}
	f.svc.SetNotifier(n)

	a := f.book(t, f.patient, "2024-06-01", "10:00")
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	close(n.release)
	f.svc.Wait()
}
