package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	domain "github.com/example/realtime-gateway/domain/realtime"
	"github.com/example/realtime-gateway/modules/auth"
	"github.com/example/realtime-gateway/modules/realtime"
	"github.com/example/realtime-gateway/modules/stats"
)

// Rate limiting constants
const (
	messagesPerSecond = 10
	burstSize         = 20
)

// closePolicyViolation is the 1008 close code used for strict-auth rejects.
const closePolicyViolation = 1008

// ClientMessage is the envelope clients send over the WebSocket.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// roomPayload is the payload for join and leave.
type roomPayload struct {
	RoomID string `json:"room_id"`
}

// messagePayload is the payload for chat messages. MessageID is the
// client-supplied idempotency key and may be empty.
type messagePayload struct {
	RoomID    string `json:"room_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
}

// typingPayload is the payload for typing transitions.
type typingPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// pingPayload carries the client's clock for the pong echo.
type pingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// rateLimiter implements a simple token bucket rate limiter.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(maxTokens, refillRate int) *rateLimiter {
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	tokensToAdd := int(elapsed.Seconds()) * r.refillRate
	if tokensToAdd > 0 {
		r.tokens += tokensToAdd
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.lastRefill = now
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}

// Handlers contains the WebSocket lifecycle driver and the HTTP side-channel
// handlers.
type Handlers struct {
	engine        *realtime.Engine
	authenticator *auth.Authenticator
	stats         *stats.Module
	logger        *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(engine *realtime.Engine, authenticator *auth.Authenticator, statsModule *stats.Module) *Handlers {
	return &Handlers{
		engine:        engine,
		authenticator: authenticator,
		stats:         statsModule,
		logger:        slog.Default(),
	}
}

// HandleWebSocket drives one connection through its lifecycle:
// greet, authenticate, dispatch inbound events, tear down.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	conn := newWSConn(c)
	defer conn.Close(websocket.CloseNormalClosure, "")

	if err := conn.WriteJSON(realtime.Event{Type: realtime.EventConnected, Payload: fiber.Map{
		"connection_id": connID,
		"server_time":   time.Now(),
	}}); err != nil {
		return
	}

	token, _ := c.Locals(localToken).(string)
	identity, err := h.authenticator.Resolve(token)
	if err != nil {
		h.logger.Info("connection rejected", "connID", connID, "error", err)
		conn.Close(closePolicyViolation, "authentication required")
		return
	}
	if err := conn.WriteJSON(realtime.Event{Type: realtime.EventAuthenticated, Payload: identity}); err != nil {
		return
	}

	h.engine.Connect(identity, connID, conn)
	// Teardown is idempotent in the engine; this defer covers both the
	// close and error exits from the read loop.
	defer h.engine.Disconnect(identity, connID)

	limiter := newRateLimiter(burstSize, messagesPerSecond)

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket error", "userID", identity.UserID, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			h.sendError(conn, "invalid message format")
			continue
		}

		h.dispatch(conn, identity, limiter, msg)
	}
}

// dispatch routes an inbound event by its type. The set of event kinds is
// closed; anything else is a protocol error that keeps the connection open.
func (h *Handlers) dispatch(conn *wsConn, identity domain.Identity, limiter *rateLimiter, msg ClientMessage) {
	switch msg.Type {
	case "join", "subscribe":
		h.handleJoin(conn, identity, msg.Payload)
	case "leave":
		h.handleLeave(conn, identity, msg.Payload)
	case "message", "chat":
		h.handleChatMessage(conn, identity, limiter, msg.Payload)
	case "typing":
		h.handleTyping(conn, identity, msg.Payload)
	case "ping":
		h.handlePing(conn, msg.Payload)
	default:
		h.sendError(conn, "unknown event type: "+msg.Type)
	}
}

func (h *Handlers) handleJoin(conn *wsConn, identity domain.Identity, payload json.RawMessage) {
	var req roomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(conn, "invalid join payload")
		return
	}
	if err := h.engine.Join(identity, req.RoomID); err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.sendEvent(conn, realtime.EventJoined, fiber.Map{"room_id": req.RoomID})
}

func (h *Handlers) handleLeave(conn *wsConn, identity domain.Identity, payload json.RawMessage) {
	var req roomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(conn, "invalid leave payload")
		return
	}
	if err := h.engine.Leave(identity, req.RoomID); err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.sendEvent(conn, realtime.EventLeft, fiber.Map{"room_id": req.RoomID})
}

func (h *Handlers) handleChatMessage(conn *wsConn, identity domain.Identity, limiter *rateLimiter, payload json.RawMessage) {
	if !limiter.allow() {
		h.sendError(conn, "rate limit exceeded, please slow down")
		return
	}

	var req messagePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(conn, "invalid message payload")
		return
	}

	// The ack (or validation error) is the reply; peers get the fan-out.
	if _, err := h.engine.SendMessage(context.Background(), identity, req.RoomID, req.Content, req.MessageID); err != nil {
		h.sendError(conn, err.Error())
	}
}

func (h *Handlers) handleTyping(conn *wsConn, identity domain.Identity, payload json.RawMessage) {
	var req typingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(conn, "invalid typing payload")
		return
	}
	if err := h.engine.Typing(identity, req.RoomID, req.IsTyping); err != nil {
		h.sendError(conn, err.Error())
	}
}

func (h *Handlers) handlePing(conn *wsConn, payload json.RawMessage) {
	var req pingPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &req)
	}
	h.sendEvent(conn, realtime.EventPong, fiber.Map{
		"timestamp":   req.Timestamp,
		"server_time": time.Now(),
	})
}

// sendEvent writes a typed event to the connection.
func (h *Handlers) sendEvent(conn *wsConn, eventType string, payload any) {
	if err := conn.WriteJSON(realtime.Event{Type: eventType, Payload: payload}); err != nil {
		h.logger.Error("failed to send event", "type", eventType, "error", err)
	}
}

// sendError writes a connection-scoped error event without terminating the
// connection.
func (h *Handlers) sendError(conn *wsConn, errMsg string) {
	if err := conn.WriteJSON(realtime.Event{Type: realtime.EventError, Error: errMsg}); err != nil {
		h.logger.Error("failed to send error event", "error", err)
	}
}

// HTTP side channel for service-to-service use

// NotifyRequest is the body of POST /notify.
type NotifyRequest struct {
	RecipientID string `json:"recipient_id"`
	Event       string `json:"event"`
	Data        any    `json:"data"`
}

// BroadcastRequest is the body of POST /broadcast.
type BroadcastRequest struct {
	Event  string `json:"event"`
	Data   any    `json:"data"`
	RoomID string `json:"room_id,omitempty"`
}

// Notify delivers an event to one connected user (POST /notify).
func (h *Handlers) Notify(c *fiber.Ctx) error {
	var req NotifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.RecipientID == "" || req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "recipient_id and event are required",
		})
	}

	if err := h.engine.Notify(req.RecipientID, req.Event, req.Data); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "recipient not connected",
			})
		}
		return err
	}
	return c.JSON(fiber.Map{"status": "delivered"})
}

// Broadcast fans an event out globally or to one room (POST /broadcast).
func (h *Handlers) Broadcast(c *fiber.Ctx) error {
	var req BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "event is required",
		})
	}

	recipients := h.engine.BroadcastEvent(req.Event, req.Data, req.RoomID)
	return c.JSON(fiber.Map{
		"status":     "sent",
		"recipients": recipients,
	})
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "realtime-gateway",
	})
}

// Stats reports live connection state and relay counters (GET /stats).
func (h *Handlers) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connections": h.engine.ConnectionCount(),
		"rooms":       h.engine.RoomCount(),
		"counters":    h.stats.Snapshot(),
	})
}
