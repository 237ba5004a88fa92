package appointment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/websocket"
)

// -- Appointment repository --

type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Appointment)}
}

func clone(a *Appointment) *Appointment {
	cp := *a
	cp.Symptoms = append([]string(nil), a.Symptoms...)
	cp.Messages = nil
	for _, m := range a.Messages {
		m.ReadBy = append([]uuid.UUID(nil), m.ReadBy...)
		cp.Messages = append(cp.Messages, m)
	}
	if a.Rating != nil {
		r := *a.Rating
		cp.Rating = &r
	}
	if a.RescheduledFrom != nil {
		rf := *a.RescheduledFrom
		cp.RescheduledFrom = &rf
	}
	cp.Patient, cp.Doctor = nil, nil
	return &cp
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.store[a.ID] = clone(a)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	cp := clone(a)
	cp.Messages = existing.Messages
	m.store[a.ID] = cp
	return nil
}

func (m *mockRepo) matches(a *Appointment, f Filter) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Mode != "" && a.Mode != f.Mode {
		return false
	}
	if f.From != nil && a.Date.Before(Day(*f.From)) {
		return false
	}
	if f.From != nil && f.FromTime != "" && a.Date.Equal(Day(*f.From)) && a.Time < f.FromTime {
		return false
	}
	if f.To != nil && a.Date.After(Day(*f.To)) {
		return false
	}
	return true
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.store {
		if m.matches(a, f) {
			all = append(all, clone(a))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		ki := all[i].DateString() + " " + all[i].Time
		kj := all[j].DateString() + " " + all[j].Time
		if f.Ascending {
			return ki < kj
		}
		return ki > kj
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) CountByStatus(_ context.Context, f Filter) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range m.store {
		if m.matches(a, f) {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (m *mockRepo) HasConflict(_ context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.store {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.Date.Equal(Day(date)) && a.Time == clock && a.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) RatingSummary(_ context.Context, doctorID uuid.UUID) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, n := 0, 0
	for _, a := range m.store {
		if a.DoctorID == doctorID && a.Rating != nil {
			sum += *a.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

func (m *mockRepo) AddMessage(_ context.Context, appointmentID uuid.UUID, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[appointmentID]
	if !ok {
		return ErrNotFound
	}
	cp := *msg
	cp.ReadBy = append([]uuid.UUID(nil), msg.ReadBy...)
	a.Messages = append(a.Messages, cp)
	return nil
}

func (m *mockRepo) MarkMessagesRead(_ context.Context, appointmentID, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[appointmentID]
	if !ok {
		return 0, ErrNotFound
	}
	return a.MarkReadBy(userID), nil
}

func (m *mockRepo) DeleteMessage(_ context.Context, appointmentID, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[appointmentID]
	if !ok {
		return ErrNotFound
	}
	if !a.RemoveMessage(messageID) {
		return ErrMessageNotFound
	}
	return nil
}

// stored returns the persisted copy of an appointment.
func (m *mockRepo) stored(t *testing.T, id uuid.UUID) *Appointment {
	t.Helper()
	a, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("stored appointment %s: %v", id, err)
	}
	return a
}

// -- User directory --

type mockDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{users: make(map[uuid.UUID]*identity.User)}
}

func (d *mockDirectory) add(u *identity.User) *identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	d.users[u.ID] = u
	return u
}

func (d *mockDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *mockDirectory) GetUsers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uuid.UUID]*identity.User)
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (d *mockDirectory) UpdateDoctorRating(_ context.Context, id uuid.UUID, rating float64, total int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.Rating = rating
	u.TotalReviews = total
	return nil
}

func (d *mockDirectory) get(id uuid.UUID) identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.users[id]
}

// -- Event publisher --

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []websocket.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []websocket.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// -- Fixture --

type fixture struct {
	svc    *Service
	repo   *mockRepo
	users  *mockDirectory
	mail   *notification.MockEmailSender
	mgr    *notification.Manager
	events *recordingPublisher

	patient      *identity.User
	otherPatient *identity.User
	doctor       *identity.User
	otherDoctor  *identity.User
	admin        *identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMockRepo(),
		users:  newMockDirectory(),
		mail:   &notification.MockEmailSender{},
		events: &recordingPublisher{},
	}
	f.mgr = notification.NewManager(f.mail, nil)
	f.svc = NewService(f.repo, f.users, zerolog.Nop(), Settings{
		DefaultDuration: 30,
		Currency:        "usd",
		NotifyTimeout:   time.Second,
	})
	f.svc.SetNotifier(f.mgr)
	f.svc.SetPublisher(f.events)
	f.svc.now = func() time.Time { return time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC) }

	f.patient = f.users.add(&identity.User{Name: "Pat Patient", Email: "pat@example.com", Role: identity.RolePatient, IsActive: true})
	f.otherPatient = f.users.add(&identity.User{Name: "Olive Other", Email: "olive@example.com", Role: identity.RolePatient, IsActive: true})
	f.doctor = f.users.add(&identity.User{
		Name: "Dana Doctor", Email: "dana@example.com", Role: identity.RoleDoctor,
		IsVerified: true, IsActive: true, Specialization: "cardiology",
		ConsultationFee: decimal.NewFromInt(50),
	})
	f.otherDoctor = f.users.add(&identity.User{
		Name: "Omar Other", Email: "omar@example.com", Role: identity.RoleDoctor,
		IsVerified: true, IsActive: true, ConsultationFee: decimal.NewFromInt(80),
	})
	f.admin = f.users.add(&identity.User{Name: "Ada Admin", Email: "ada@example.com", Role: identity.RoleAdmin, IsActive: true})
	t.Cleanup(f.svc.Wait)
	return f
}

func actorOfUser(u *identity.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

// book creates an appointment for patient with f.doctor.
func (f *fixture) book(t *testing.T, patient *identity.User, date, clock string) *Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), actorOfUser(patient), BookInput{
		DoctorID: f.doctor.ID,
		Date:     mustDate(t, date),
		Time:     clock,
		Type:     TypeConsultation,
		Mode:     ModeVideoCall,
	})
	if err != nil {
		t.Fatalf("Book(%s %s): %v", date, clock, err)
	}
	return a
}

// setStatus forces a stored status without going through the workflow.
func (f *fixture) setStatus(t *testing.T, id uuid.UUID, status string) {
	t.Helper()
	a := f.repo.stored(t, id)
	a.Status = status
	if err := f.repo.Update(context.Background(), a); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func (f *fixture) mailTo(email string) []notification.EmailCall {
	var out []notification.EmailCall
	for _, c := range f.mail.Calls() {
		if c.To == email {
			out = append(out, c)
		}
	}
	return out
}
