package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/response"
)

func TestTemplateEngine_RenderBuiltIns(t *testing.T) {
	e := NewTemplateEngine()
	for _, id := range []string{
		TemplateBookedPatient, TemplateBookedDoctor, TemplateStatusUpdate,
		TemplateRescheduled, TemplateCancelled,
	} {
		if _, _, err := e.Render(id, nil); err != nil {
			t.Errorf("template %s: %v", id, err)
		}
	}
}

func TestTemplateEngine_Substitution(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateStatusUpdate, map[string]string{
		"status":        "confirmed",
		"recipientName": "Pat",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Your appointment is now confirmed" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Hello Pat") {
		t.Errorf("expected recipient in body, got %q", body)
	}
	if !strings.Contains(body, "{{doctorName}}") {
		t.Error("expected missing keys to stay verbatim")
	}
}

func TestTemplateEngine_Unknown(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_Register(t *testing.T) {
	e := NewTemplateEngine()
	e.Register(Template{ID: "custom", Subject: "Hi {{name}}", Body: "x"})
	subject, _, err := e.Render("custom", map[string]string{"name": "Ann"})
	if err != nil || subject != "Hi Ann" {
		t.Errorf("got %q, %v", subject, err)
	}
}

func TestManager_SendFromTemplate(t *testing.T) {
	sender := &MockEmailSender{}
	m := NewManager(sender, nil)

	n, err := m.SendFromTemplate(context.Background(), TemplateCancelled,
		map[string]string{"date": "2024-06-01"}, "p@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusSent || n.SentAt == nil {
		t.Errorf("expected sent notification, got %+v", n)
	}
	calls := sender.Calls()
	if len(calls) != 1 || calls[0].To != "p@example.com" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[0].Subject != "Appointment on 2024-06-01 cancelled" {
		t.Errorf("unexpected subject %q", calls[0].Subject)
	}
}

func TestManager_FailureIsRecorded(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	m := NewManager(sender, nil)

	err := m.Notify(context.Background(), TemplateStatusUpdate, "p@example.com", nil)
	if err == nil {
		t.Fatal("expected sender error")
	}
	stats := m.Stats(context.Background())
	if stats[StatusFailed] != 1 || stats[StatusSent] != 0 {
		t.Errorf("unexpected stats %v", stats)
	}
	list := m.ListByRecipient(context.Background(), "p@example.com", 10)
	if len(list) != 1 || list[0].Error != "smtp down" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestManager_EmptyRecipient(t *testing.T) {
	sender := &MockEmailSender{}
	m := NewManager(sender, nil)
	if err := m.Notify(context.Background(), TemplateCancelled, "", nil); err == nil {
		t.Fatal("expected error for empty recipient")
	}
	if len(sender.Calls()) != 0 {
		t.Error("sender must not be called")
	}
}

func TestManager_Retry(t *testing.T) {
	sender := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	m := NewManager(sender, nil)
	ctx := context.Background()

	n, _ := m.SendFromTemplate(ctx, TemplateCancelled, nil, "p@example.com")

	sender.SetFailing(false, "")
	if err := m.Retry(ctx, n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	got, _ := m.Get(ctx, n.ID)
	if got.Status != StatusSent || got.Attempts != 2 || got.Error != "" {
		t.Errorf("unexpected notification after retry %+v", got)
	}

	if err := m.Retry(ctx, n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
	if err := m.Retry(ctx, "missing"); err == nil {
		t.Error("expected error retrying an unknown notification")
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	m := NewManager(&MockEmailSender{}, nil)
	ctx := context.Background()
	first, _ := m.SendFromTemplate(ctx, TemplateCancelled, nil, "p@example.com")
	time.Sleep(2 * time.Millisecond)
	second, _ := m.SendFromTemplate(ctx, TemplateRescheduled, nil, "p@example.com")
	m.SendFromTemplate(ctx, TemplateCancelled, nil, "other@example.com")

	list := m.ListByRecipient(ctx, "p@example.com", 10)
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("expected newest first")
	}
	if got := m.ListByRecipient(ctx, "p@example.com", 1); len(got) != 1 {
		t.Errorf("expected limit to apply, got %d", len(got))
	}
}

func adminContext(e *echo.Echo, method, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Stats(t *testing.T) {
	m := NewManager(&MockEmailSender{}, nil)
	m.Notify(context.Background(), TemplateCancelled, "p@example.com", nil)
	h := NewHandler(m)

	e := echo.New()
	c, rec := adminContext(e, http.MethodGet, "/notifications/stats")
	if err := h.Stats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.Data[StatusSent] != 1 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListRequiresRecipient(t *testing.T) {
	h := NewHandler(NewManager(&MockEmailSender{}, nil))
	e := echo.New()
	c, _ := adminContext(e, http.MethodGet, "/notifications")

	err := h.List(c)
	if _, ok := err.(*response.ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	h := NewHandler(NewManager(&MockEmailSender{}, nil))
	e := echo.New()
	c, _ := adminContext(e, http.MethodGet, "/notifications/x")
	c.SetParamNames("id")
	c.SetParamValues("x")

	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
