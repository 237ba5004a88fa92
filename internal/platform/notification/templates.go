package notification

import (
	"fmt"
	"strings"
	"sync"
)

const (
	TemplateBookedPatient = "appointment-booked-patient"
	TemplateBookedDoctor  = "appointment-booked-doctor"
	TemplateStatusUpdate  = "appointment-status-update"
	TemplateRescheduled   = "appointment-rescheduled"
	TemplateCancelled     = "appointment-cancelled"
)

type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders. Unknown keys stay verbatim.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtIn {
		e.templates[t.ID] = t
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TemplateBookedPatient,
		Subject: "Appointment booked with Dr. {{doctorName}}",
		Body: "Hello {{recipientName}},\n\n" +
			"Your {{type}} appointment with Dr. {{doctorName}} is booked for {{date}} at {{time}} ({{mode}}).\n" +
			"Consultation fee: {{fee}} {{currency}}.\n" +
			"The appointment is pending confirmation by the doctor.",
	},
	{
		ID:      TemplateBookedDoctor,
		Subject: "New appointment request from {{patientName}}",
		Body: "Hello Dr. {{recipientName}},\n\n" +
			"{{patientName}} booked a {{type}} appointment on {{date}} at {{time}} ({{mode}}).\n" +
			"Symptoms: {{symptoms}}",
	},
	{
		ID:      TemplateStatusUpdate,
		Subject: "Your appointment is now {{status}}",
		Body: "Hello {{recipientName}},\n\n" +
			"Your appointment with Dr. {{doctorName}} on {{date}} at {{time}} changed from {{previousStatus}} to {{status}}.\n" +
			"{{notes}}",
	},
	{
		ID:      TemplateRescheduled,
		Subject: "Appointment rescheduled to {{date}} {{time}}",
		Body: "Hello {{recipientName}},\n\n" +
			"The appointment between {{patientName}} and Dr. {{doctorName}} moved from {{previousDate}} {{previousTime}} " +
			"to {{date}} at {{time}}.\nReason: {{reason}}\nIt is pending confirmation again.",
	},
	{
		ID:      TemplateCancelled,
		Subject: "Appointment on {{date}} cancelled",
		Body: "Hello {{recipientName}},\n\n" +
			"The appointment between {{patientName}} and Dr. {{doctorName}} on {{date}} at {{time}} was cancelled by {{cancelledBy}}.\n" +
			"Reason: {{reason}}",
	},
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}
