package appointment

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/response"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")

	// Booking – patients only
	book := g.Group("", auth.RequireRole(auth.RolePatient))
	book.POST("", h.Book)
	book.POST("/book", h.Book)

	// Read endpoints – any authenticated user, scoped by role in the service
	g.GET("", h.List)
	g.GET("/upcoming", h.Upcoming)
	g.GET("/stats", h.Stats)
	g.GET("/check", h.CheckAvailability)
	g.GET("/:id", h.Get)

	// Doctor workflow – the service admits the assigned doctor or an admin
	g.PUT("/:id/status", h.UpdateStatus)
	g.PUT("/:id/notes", h.UpdateNotes)

	// Participant workflow
	g.PUT("/:id/reschedule", h.Reschedule)
	g.DELETE("/:id", h.Cancel)
	g.POST("/:id/rating", h.Rate)

	// Chat
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/messages", h.SendMessage)
	g.PUT("/:id/messages/read", h.MarkMessagesRead)
	g.DELETE("/:id/messages/:messageId", h.DeleteMessage)
}

// httpError maps workflow errors to HTTP errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Appointment not found")
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	case errors.Is(err, ErrDoctorNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Doctor not found")
	case errors.Is(err, ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Message not found")
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrDoctorUnavailable):
		return echo.NewHTTPError(http.StatusBadRequest, "Doctor not found or not verified")
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusBadRequest, "Selected time slot is not available")
	case errors.Is(err, ErrNotCompleted):
		return echo.NewHTTPError(http.StatusBadRequest, "Can only rate completed appointments")
	case errors.Is(err, ErrInvalidRating):
		return echo.NewHTTPError(http.StatusBadRequest, "Rating must be between 1 and 5")
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func actorOf(c echo.Context) (Actor, error) {
	id, err := auth.Caller(c)
	if err != nil {
		return Actor{}, err
	}
	return ActorFrom(id), nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, response.NewValidationError(name, "must be a valid id")
	}
	return id, nil
}

func queryDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, response.NewValidationError(name, "must match the format "+DateLayout)
	}
	return &d, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, response.NewValidationError(name, "must be a valid id")
	}
	return &id, nil
}

// -- Booking --

type bookRequest struct {
	DoctorID string   `json:"doctorId" validate:"required,uuid"`
	Date     string   `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string   `json:"time" validate:"required,datetime=15:04"`
	Duration int      `json:"duration" validate:"omitempty,min=5,max=480"`
	Type     string   `json:"type" validate:"omitempty,oneof=consultation follow_up emergency routine_checkup vaccination"`
	Mode     string   `json:"mode" validate:"omitempty,oneof=in_person video_call chat"`
	Symptoms []string `json:"symptoms" validate:"omitempty,max=20,dive,required,max=200"`
	Notes    string   `json:"notes" validate:"omitempty,max=1000"`
}

func (h *Handler) Book(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.Book(c.Request().Context(), actor, BookInput{
		DoctorID:     uuid.MustParse(req.DoctorID),
		Date:         date,
		Time:         req.Time,
		Duration:     req.Duration,
		Type:         req.Type,
		Mode:         req.Mode,
		Symptoms:     req.Symptoms,
		PatientNotes: req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return response.Created(c, "Appointment booked successfully", a)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	doctorID, err := queryID(c, "doctorId")
	if err != nil {
		return err
	}
	if doctorID == nil {
		return response.NewValidationError("doctorId", "is required")
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	if date == nil {
		return response.NewValidationError("date", "is required")
	}
	clock := c.QueryParam("time")
	if clock == "" {
		return response.NewValidationError("time", "is required")
	}
	exclude, err := queryID(c, "excludeId")
	if err != nil {
		return err
	}

	available, err := h.svc.CheckAvailability(c.Request().Context(), *doctorID, *date, clock, exclude)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "", map[string]interface{}{
		"available": available,
		"doctorId":  doctorID,
		"date":      date.Format(DateLayout),
		"time":      clock,
	})
}

// -- Queries --

func (h *Handler) Get(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "", a)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var f Filter
	if f.PatientID, err = queryID(c, "patientId"); err != nil {
		return err
	}
	if f.DoctorID, err = queryID(c, "doctorId"); err != nil {
		return err
	}
	if f.From, err = queryDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryDate(c, "to"); err != nil {
		return err
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, st)
			}
		}
	}
	f.Type = c.QueryParam("type")
	f.Mode = c.QueryParam("mode")
	f.Ascending = c.QueryParam("sort") == "asc"

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return response.OK(c, "", map[string]interface{}{
		"appointments": items,
		"pagination":   pagination.NewMeta(pg, total),
	})
}

func (h *Handler) Upcoming(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Upcoming(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return response.OK(c, "", items)
}

func (h *Handler) Stats(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), actor, from, to)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "", st)
}

// -- Lifecycle --

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed in_progress completed cancelled no_show"`
	Notes  string `json:"notes" validate:"omitempty,max=2000"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, req.Status, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Appointment status updated successfully", a)
}

type rescheduleRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Time   string `json:"time" validate:"required,datetime=15:04"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		return httpError(err)
	}
	a, err := h.svc.Reschedule(c.Request().Context(), actor, id, RescheduleInput{Date: date, Time: req.Time, Reason: req.Reason})
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Appointment rescheduled successfully", a)
}

type cancelRequest struct {
	Reason string `json:"reason" query:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) Cancel(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Appointment cancelled successfully", a)
}

type ratingRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"omitempty,max=1000"`
}

func (h *Handler) Rate(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ratingRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Rate(c.Request().Context(), actor, id, req.Rating, req.Review)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Appointment rated successfully", a)
}

type notesRequest struct {
	Diagnosis *string `json:"diagnosis" validate:"omitempty,max=5000"`
	Treatment *string `json:"treatment" validate:"omitempty,max=5000"`
	FollowUp  *string `json:"followUp" validate:"omitempty,max=5000"`
	Signature *string `json:"signature" validate:"omitempty,max=500"`
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req notesRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.UpdateNotes(c.Request().Context(), actor, id, NotesInput{
		Diagnosis: req.Diagnosis,
		Treatment: req.Treatment,
		FollowUp:  req.FollowUp,
		Signature: req.Signature,
	})
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Consultation notes updated successfully", a)
}

// -- Chat --

type messageRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
	Type    string `json:"type" validate:"omitempty,oneof=text image file"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req messageRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	m, err := h.svc.SendMessage(c.Request().Context(), actor, id, req.Message, req.Type)
	if err != nil {
		return httpError(err)
	}
	return response.Created(c, "Message sent", m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	msgs, err := h.svc.ListMessages(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "", msgs)
}

func (h *Handler) MarkMessagesRead(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.MarkMessagesRead(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return response.OK(c, "Messages marked as read", map[string]int{"updated": n})
}

func (h *Handler) DeleteMessage(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	msgID, err := pathID(c, "messageId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMessage(c.Request().Context(), actor, id, msgID); err != nil {
		return httpError(err)
	}
	return response.OK(c, "Message deleted", nil)
}
