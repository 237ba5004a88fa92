package appointment

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/websocket"
)

const (
	EventBooked         = "appointment.booked"
	EventStatusChanged  = "appointment.status_changed"
	EventRescheduled    = "appointment.rescheduled"
	EventCancelled      = "appointment.cancelled"
	EventNotesUpdated   = "appointment.notes_updated"
	EventRated          = "appointment.rated"
	EventMessageCreated = "message.created"
	EventMessageDeleted = "message.deleted"
	EventMessagesRead   = "message.read"
)

// CanSubscribe decides which real-time topics a user may follow: their own
// user topic and the appointments they take part in. Admins may follow any
// topic.
func (s *Service) CanSubscribe(ctx context.Context, id auth.Identity, topic string) bool {
	if id.IsAdmin() {
		return true
	}
	if topic == websocket.UserTopic(id.UserID.String()) {
		return true
	}
	raw, ok := strings.CutPrefix(topic, "appointment:")
	if !ok {
		return false
	}
	apptID, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	a, err := s.appts.GetByID(ctx, apptID)
	if err != nil {
		return false
	}
	return a.IsParticipant(id.UserID)
}
