package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/websocket"
)

// UserDirectory resolves the patients and doctors referenced by appointments.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.User, error)
	UpdateDoctorRating(ctx context.Context, id uuid.UUID, rating float64, totalReviews int) error
}

// Notifier delivers a templated message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, templateID, recipient string, data map[string]string) error
}

type Settings struct {
	DefaultDuration int
	Currency        string
	NotifyTimeout   time.Duration
}

var validAppointmentTypes = map[string]bool{
	TypeConsultation: true, TypeFollowUp: true, TypeEmergency: true,
	TypeRoutineCheckup: true, TypeVaccination: true,
}

var validModes = map[string]bool{
	ModeInPerson: true, ModeVideoCall: true, ModeChat: true,
}

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

var validMessageTypes = map[string]bool{
	MessageText: true, MessageImage: true, MessageFile: true,
}

// AllStatuses lists the appointment statuses in lifecycle order.
var AllStatuses = []string{
	StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow,
}

type Service struct {
	appts     Repository
	users     UserDirectory
	tx        Transactor
	notifier  Notifier
	publisher websocket.EventPublisher
	logger    zerolog.Logger
	settings  Settings
	now       func() time.Time

	inflight sync.WaitGroup
}

func NewService(appts Repository, users UserDirectory, logger zerolog.Logger, settings Settings) *Service {
	if settings.DefaultDuration <= 0 {
		settings.DefaultDuration = 30
	}
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	if settings.NotifyTimeout <= 0 {
		settings.NotifyTimeout = 15 * time.Second
	}
	return &Service{
		appts:    appts,
		users:    users,
		tx:       noTx{},
		logger:   logger.With().Str("component", "appointment").Logger(),
		settings: settings,
		now:      time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier)                   { s.notifier = n }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetTransactor(t Transactor)              { s.tx = t }

// Wait blocks until every notification and event started so far is done.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// dispatch runs fn in the background, detached from the caller's
// cancellation and bounded by the notify timeout.
func (s *Service) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.NotifyTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) notify(ctx context.Context, a *Appointment, templateID string, to *identity.User, data map[string]string) {
	if s.notifier == nil || to == nil || to.Email == "" {
		return
	}
	payload := make(map[string]string, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["recipientName"] = to.Name

	s.dispatch(ctx, func(ctx context.Context) {
		if err := s.notifier.Notify(ctx, templateID, to.Email, payload); err != nil {
			s.logger.Warn().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("template", templateID).
				Str("recipient", to.Email).
				Msg("notification failed")
		}
	})
}

// Topics returns the real-time topics an appointment's events go to.
func Topics(a *Appointment) []string {
	return []string{
		AppointmentTopic(a.ID),
		websocket.UserTopic(a.PatientID.String()),
		websocket.UserTopic(a.DoctorID.String()),
	}
}

func AppointmentTopic(id uuid.UUID) string { return "appointment:" + id.String() }

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment, payload interface{}) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("encode event")
		return
	}
	s.dispatch(ctx, func(ctx context.Context) {
		for _, topic := range Topics(a) {
			ev := websocket.Event{Type: eventType, Topic: topic, AppointmentID: a.ID.String(), Data: data}
			if err := s.publisher.Publish(ctx, ev); err != nil {
				s.logger.Warn().Err(err).Str("event", eventType).Str("topic", topic).Msg("publish failed")
			}
		}
	})
}

func templateData(a *Appointment, patient, doctor *identity.User) map[string]string {
	data := map[string]string{
		"date":     a.DateString(),
		"time":     a.Time,
		"type":     strings.ReplaceAll(a.Type, "_", " "),
		"mode":     strings.ReplaceAll(a.Mode, "_", " "),
		"status":   a.Status,
		"fee":      a.ConsultationFee.StringFixed(2),
		"currency": strings.ToUpper(a.Payment.Currency),
		"symptoms": strings.Join(a.Symptoms, ", "),
	}
	if patient != nil {
		data["patientName"] = patient.Name
	}
	if doctor != nil {
		data["doctorName"] = doctor.Name
	}
	return data
}

func partyOf(u *identity.User) *Party {
	if u == nil {
		return nil
	}
	return &Party{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Specialization: u.Specialization}
}

// participants loads the patient and doctor of a. Missing users come back nil.
func (s *Service) participants(ctx context.Context, a *Appointment) (patient, doctor *identity.User, err error) {
	users, err := s.users.GetUsers(ctx, []uuid.UUID{a.PatientID, a.DoctorID})
	if err != nil {
		return nil, nil, fmt.Errorf("load participants: %w", err)
	}
	return users[a.PatientID], users[a.DoctorID], nil
}

// populate fills the display fields of every appointment with one lookup.
func (s *Service) populate(ctx context.Context, appts ...*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, 2*len(appts))
	for _, a := range appts {
		ids = append(ids, a.PatientID, a.DoctorID)
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	for _, a := range appts {
		a.Patient = partyOf(users[a.PatientID])
		a.Doctor = partyOf(users[a.DoctorID])
	}
	return nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

// -- Availability --

// CheckAvailability reports whether the doctor's slot is free. excludeID
// names an appointment whose own slot does not count as a conflict.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error) {
	clock, err := NormalizeTime(clock)
	if err != nil {
		return false, err
	}
	if _, err := s.users.GetUser(ctx, doctorID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return false, ErrDoctorNotFound
		}
		return false, err
	}
	return s.slotFree(ctx, doctorID, date, clock, excludeID)
}

func (s *Service) slotFree(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error) {
	taken, err := s.appts.HasConflict(ctx, doctorID, Day(date), clock, excludeID)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// -- Booking --

type BookInput struct {
	DoctorID     uuid.UUID
	Date         time.Time
	Time         string
	Duration     int
	Type         string
	Mode         string
	Symptoms     []string
	PatientNotes string
}

// Book creates a pending appointment for the calling patient. The check and
// the insert are not atomic; two concurrent requests for one slot can both
// succeed.
func (s *Service) Book(ctx context.Context, actor Actor, in BookInput) (*Appointment, error) {
	if !actor.IsPatient() {
		return nil, ErrAccessDenied
	}
	if in.Type == "" {
		in.Type = TypeConsultation
	}
	if !validAppointmentTypes[in.Type] {
		return nil, fmt.Errorf("%w: invalid appointment type: %s", ErrInvalidInput, in.Type)
	}
	if in.Mode == "" {
		in.Mode = ModeVideoCall
	}
	if !validModes[in.Mode] {
		return nil, fmt.Errorf("%w: invalid mode: %s", ErrInvalidInput, in.Mode)
	}
	if in.Duration <= 0 {
		in.Duration = s.settings.DefaultDuration
	}
	clock, err := NormalizeTime(in.Time)
	if err != nil {
		return nil, err
	}

	patient, err := s.users.GetUser(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	doctor, err := s.users.GetUser(ctx, in.DoctorID)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		return nil, err
	}
	if doctor == nil || !doctor.IsBookableDoctor() {
		return nil, ErrDoctorUnavailable
	}

	free, err := s.slotFree(ctx, doctor.ID, in.Date, clock, nil)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, ErrSlotUnavailable
	}

	symptoms := in.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	a := &Appointment{
		PatientID:       patient.ID,
		DoctorID:        doctor.ID,
		Date:            Day(in.Date),
		Time:            clock,
		Duration:        in.Duration,
		Type:            in.Type,
		Mode:            in.Mode,
		Status:          StatusPending,
		Symptoms:        symptoms,
		PatientNotes:    in.PatientNotes,
		ConsultationFee: doctor.ConsultationFee,
		Payment: Payment{
			Status:   PaymentPending,
			Amount:   doctor.ConsultationFee,
			Currency: s.settings.Currency,
		},
	}
	if err := s.appts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	a.Patient = partyOf(patient)
	a.Doctor = partyOf(doctor)

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", doctor.ID.String()).
		Str("date", a.DateString()).
		Str("time", a.Time).
		Msg("appointment booked")

	data := templateData(a, patient, doctor)
	s.notify(ctx, a, notification.TemplateBookedPatient, patient, data)
	s.notify(ctx, a, notification.TemplateBookedDoctor, doctor, data)
	s.publish(ctx, EventBooked, a, a)
	return a, nil
}

// -- Queries --

func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrAccessDenied
	}
	if err := s.populate(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the appointments the actor may see that match f.
func (s *Service) List(ctx context.Context, actor Actor, f Filter, limit, offset int) ([]*Appointment, int, error) {
	for _, st := range f.Statuses {
		if !validStatuses[st] {
			return nil, 0, fmt.Errorf("%w: %s", ErrInvalidStatus, st)
		}
	}
	items, total, err := s.appts.List(ctx, scope(actor, f), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.populate(ctx, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpcomingLimit caps the upcoming listing.
const UpcomingLimit = 5

// Upcoming returns the next pending or confirmed appointments that have not
// started yet.
func (s *Service) Upcoming(ctx context.Context, actor Actor) ([]*Appointment, error) {
	now := s.now().UTC()
	today := Day(now)
	f := Filter{
		Statuses:  []string{StatusPending, StatusConfirmed},
		From:      &today,
		FromTime:  now.Format(TimeLayout),
		Ascending: true,
	}
	items, _, err := s.List(ctx, actor, f, UpcomingLimit, 0)
	return items, err
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// Stats counts the actor's appointments by status, optionally within a
// date range.
func (s *Service) Stats(ctx context.Context, actor Actor, from, to *time.Time) (*Stats, error) {
	counts, err := s.appts.CountByStatus(ctx, scope(actor, Filter{From: from, To: to}))
	if err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: make(map[string]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		st.ByStatus[status] = counts[status]
		st.Total += counts[status]
	}
	return st, nil
}
