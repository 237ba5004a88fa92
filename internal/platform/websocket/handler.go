package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// TopicAuthorizer decides whether a caller may subscribe to a topic.
type TopicAuthorizer interface {
	CanSubscribe(ctx context.Context, caller auth.Identity, topic string) bool
}

// UserTopic is the per-user topic every client is subscribed to on connect.
func UserTopic(userID string) string { return "user:" + userID }

// Handler upgrades HTTP requests and runs the client pumps.
type Handler struct {
	hub        *Hub
	authorizer TopicAuthorizer
	upgrader   gorillawebsocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler builds a handler. allowedOrigins empty accepts any origin.
func NewHandler(hub *Hub, authorizer TopicAuthorizer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:        hub,
		authorizer: authorizer,
		logger:     logger.With().Str("component", "ws").Logger(),
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin] || origins["*"]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

func (h *Handler) HandleConnect(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return nil
	}

	client := NewClient(caller.UserID, caller.Role)
	h.hub.Register(client)
	h.hub.Subscribe(client, UserTopic(caller.UserID.String()))

	// The request context ends when this handler returns.
	ctx := context.WithoutCancel(c.Request().Context())
	go h.writePump(client, ws)
	go h.readPump(ctx, client, caller, ws)
	return nil
}

// Handle applies one client message and returns the acknowledgement.
func (h *Handler) Handle(ctx context.Context, client *Client, caller auth.Identity, msg ClientMessage) ServerMessage {
	switch msg.Action {
	case "subscribe":
		ack := ServerMessage{Type: "subscribed"}
		for _, topic := range msg.Topics {
			if h.authorizer != nil && !h.authorizer.CanSubscribe(ctx, caller, topic) {
				ack.Rejected = append(ack.Rejected, topic)
				continue
			}
			ack.Accepted = append(ack.Accepted, topic)
		}
		h.hub.Subscribe(client, ack.Accepted...)
		return ack
	case "unsubscribe":
		h.hub.Unsubscribe(client, msg.Topics...)
		return ServerMessage{Type: "unsubscribed", Accepted: msg.Topics}
	default:
		return ServerMessage{Type: "error", Rejected: msg.Topics}
	}
}

func (h *Handler) readPump(ctx context.Context, client *Client, caller auth.Identity, conn *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", client.ID).Msg("connection closed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		ack, err := json.Marshal(h.Handle(ctx, client, caller, msg))
		if err != nil {
			continue
		}
		select {
		case client.Send <- ack:
		default:
		}
	}
}

func (h *Handler) writePump(client *Client, conn *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
