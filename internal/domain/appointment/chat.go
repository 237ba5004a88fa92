package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SendMessage appends a chat message from actor. The sender has read it.
func (s *Service) SendMessage(ctx context.Context, actor Actor, id uuid.UUID, text, msgType string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if msgType == "" {
		msgType = MessageText
	}
	if !validMessageTypes[msgType] {
		return nil, fmt.Errorf("%w: invalid message type: %s", ErrInvalidInput, msgType)
	}

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrAccessDenied
	}

	m := &Message{
		ID:        uuid.New(),
		SenderID:  actor.ID,
		Message:   text,
		Type:      msgType,
		Timestamp: s.now().UTC(),
		ReadBy:    []uuid.UUID{actor.ID},
	}
	if err := s.appts.AddMessage(ctx, a.ID, m); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	s.publish(ctx, EventMessageCreated, a, m)
	return m, nil
}

func (s *Service) ListMessages(ctx context.Context, actor Actor, id uuid.UUID) ([]Message, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, ErrAccessDenied
	}
	if a.Messages == nil {
		return []Message{}, nil
	}
	return a.Messages, nil
}

// MarkMessagesRead marks every message of the appointment as read by actor
// and returns how many were newly marked.
func (s *Service) MarkMessagesRead(ctx context.Context, actor Actor, id uuid.UUID) (int, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !canView(actor, a) {
		return 0, ErrAccessDenied
	}
	n, err := s.appts.MarkMessagesRead(ctx, a.ID, actor.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, EventMessagesRead, a, map[string]string{"readBy": actor.ID.String()})
	}
	return n, nil
}

// DeleteMessage removes one message. Only its sender may delete it.
func (s *Service) DeleteMessage(ctx context.Context, actor Actor, id, messageID uuid.UUID) error {
	a, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canView(actor, a) {
		return ErrAccessDenied
	}
	m, ok := a.FindMessage(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if m.SenderID != actor.ID {
		return ErrAccessDenied
	}
	if err := s.appts.DeleteMessage(ctx, a.ID, messageID); err != nil {
		return err
	}
	s.publish(ctx, EventMessageDeleted, a, map[string]string{"messageId": messageID.String()})
	return nil
}
