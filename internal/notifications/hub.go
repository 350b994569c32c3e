package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Persistent-channel event names, server to client.
const (
	EventConnected           = "connected"
	EventNewNotification     = "new_notification"
	EventUnreadCount         = "unread_count"
	EventUnreadNotifications = "unread_notifications"
	EventAllRead             = "all_notifications_read"
	EventBroadcast           = "broadcast_notification"
)

// Persistent-channel command names, client to server.
const (
	CommandGetUnreadCount = "get_unread_count"
	CommandGetUnread      = "get_unread_notifications"
	CommandMarkRead       = "mark_notification_read"
	CommandMarkAllRead    = "mark_all_notifications_read"
)

// Envelope frames every message on the persistent channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewNotificationData is the payload of a new_notification event.
type NewNotificationData struct {
	Notification View `json:"notification"`
}

// UnreadCountData is the payload of an unread_count event.
type UnreadCountData struct {
	Count int64 `json:"count"`
}

// UnreadListData is the payload of an unread_notifications event.
type UnreadListData struct {
	Notifications []View `json:"notifications"`
}

// MarkReadData is the payload of a mark_notification_read command.
type MarkReadData struct {
	ID string `json:"id"`
}

const (
	sessionBufferSize = 16
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 45 * time.Second
)

// Hub owns the websocket sessions of the persistent channel and fans
// notification events out per user. Slow sessions drop messages rather than
// block the publisher.
type Hub struct {
	service  *Service
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[int64]*session
	nextID   int64
}

type session struct {
	id     int64
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub constructs the channel hub over the notification service.
func NewHub(service *Service, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]map[int64]*session),
	}
}

// HandleConnection upgrades the request and serves the channel until the
// peer disconnects. Blocks for the lifetime of the connection.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sess := &session{
		id:     h.sequence(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sessionBufferSize),
	}
	h.register(sess)
	defer func() {
		h.unregister(sess)
		_ = conn.Close()
	}()

	sess.enqueue(marshalEnvelope(EventConnected, nil))

	go sess.writePump()
	h.readPump(r.Context(), sess)
	return nil
}

// PublishNew delivers a freshly created notification to the owner's sessions.
func (h *Hub) PublishNew(userID string, view View) {
	h.fanOut(userID, marshalEnvelope(EventNewNotification, NewNotificationData{Notification: view}))
}

// Broadcast delivers a notification view to every connected session.
func (h *Hub) Broadcast(view View) {
	message := marshalEnvelope(EventBroadcast, NewNotificationData{Notification: view})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sessions := range h.sessions {
		for _, sess := range sessions {
			sess.enqueue(message)
		}
	}
}

// ConnectedUsers reports how many distinct users hold live sessions.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) readPump(ctx context.Context, sess *session) {
	sess.conn.SetReadLimit(4096)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			h.logger.Debug("malformed channel message", zap.Error(err))
			continue
		}
		h.handleCommand(ctx, sess, envelope)
	}
}

func (h *Hub) handleCommand(ctx context.Context, sess *session, envelope Envelope) {
	switch envelope.Event {
	case CommandGetUnreadCount:
		count, err := h.service.UnreadCount(ctx, sess.userID)
		if err != nil {
			h.logger.Warn("unread count query failed", zap.Error(err))
			return
		}
		sess.enqueue(marshalEnvelope(EventUnreadCount, UnreadCountData{Count: count}))
	case CommandGetUnread:
		rows, err := h.service.Unread(ctx, sess.userID)
		if err != nil {
			h.logger.Warn("unread list query failed", zap.Error(err))
			return
		}
		views := make([]View, 0, len(rows))
		for _, row := range rows {
			views = append(views, row.View())
		}
		sess.enqueue(marshalEnvelope(EventUnreadNotifications, UnreadListData{Notifications: views}))
	case CommandMarkRead:
		var data MarkReadData
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.ID == "" {
			return
		}
		if err := h.service.MarkRead(ctx, sess.userID, data.ID); err != nil {
			h.logger.Debug("channel mark read failed", zap.Error(err))
			return
		}
		count, err := h.service.UnreadCount(ctx, sess.userID)
		if err != nil {
			return
		}
		h.fanOut(sess.userID, marshalEnvelope(EventUnreadCount, UnreadCountData{Count: count}))
	case CommandMarkAllRead:
		if err := h.service.MarkAllRead(ctx, sess.userID); err != nil {
			h.logger.Debug("channel mark all read failed", zap.Error(err))
			return
		}
		h.fanOut(sess.userID, marshalEnvelope(EventAllRead, nil))
	default:
		h.logger.Debug("unknown channel command", zap.String("event", envelope.Event))
	}
}

func (h *Hub) fanOut(userID string, message []byte) {
	h.mu.RLock()
	sessions := h.sessions[userID]
	copies := make([]*session, 0, len(sessions))
	for _, sess := range sessions {
		copies = append(copies, sess)
	}
	h.mu.RUnlock()
	for _, sess := range copies {
		sess.enqueue(message)
	}
}

func (h *Hub) sequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sess.userID]; !ok {
		h.sessions[sess.userID] = make(map[int64]*session)
	}
	h.sessions[sess.userID][sess.id] = sess
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	sessions := h.sessions[sess.userID]
	if sessions != nil {
		if _, ok := sessions[sess.id]; ok {
			delete(sessions, sess.id)
			close(sess.send)
		}
		if len(sessions) == 0 {
			delete(h.sessions, sess.userID)
		}
	}
	h.mu.Unlock()
}

func (s *session) enqueue(message []byte) {
	defer func() {
		// A concurrent unregister may have closed the channel.
		_ = recover()
	}()
	select {
	case s.send <- message:
	default:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func marshalEnvelope(event string, data interface{}) []byte {
	envelope := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			envelope.Data = raw
		}
	}
	message, _ := json.Marshal(envelope)
	return message
}
