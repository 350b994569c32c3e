package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// Persistent-channel event names, server to client. Mirrors the server hub.
const (
	eventConnected           = "connected"
	eventNewNotification     = "new_notification"
	eventUnreadCount         = "unread_count"
	eventUnreadNotifications = "unread_notifications"
	eventAllRead             = "all_notifications_read"
	eventBroadcast           = "broadcast_notification"
)

// Persistent-channel command names, client to server.
const (
	commandGetUnreadCount = "get_unread_count"
	commandGetUnread      = "get_unread_notifications"
	commandMarkRead       = "mark_notification_read"
	commandMarkAllRead    = "mark_all_notifications_read"
)

// Notification is the client-side projection of a server notification.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	IsRead    bool                   `json:"isRead"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
	Priority  string                 `json:"priority"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Event is the closed union of messages the channel can deliver. Each
// concrete type pairs an event kind with its payload so an illegal
// combination cannot be constructed.
type Event interface {
	isEvent()
}

// ConnectedEvent signals a fresh channel.
type ConnectedEvent struct{}

// NewNotificationEvent carries a pushed notification.
type NewNotificationEvent struct {
	Notification Notification
}

// UnreadCountEvent carries an authoritative unread counter snapshot.
type UnreadCountEvent struct {
	Count int64
}

// UnreadListEvent carries an authoritative unread list snapshot.
type UnreadListEvent struct {
	Notifications []Notification
}

// AllReadEvent signals a bulk mark-all-read finished server-side.
type AllReadEvent struct{}

// BroadcastEvent carries a system-wide announcement.
type BroadcastEvent struct {
	Notification Notification
}

func (ConnectedEvent) isEvent()       {}
func (NewNotificationEvent) isEvent() {}
func (UnreadCountEvent) isEvent()     {}
func (UnreadListEvent) isEvent()      {}
func (AllReadEvent) isEvent()         {}
func (BroadcastEvent) isEvent()       {}

// EventSink consumes decoded channel events.
type EventSink interface {
	HandleEvent(event Event)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func decodeEvent(raw []byte) (Event, error) {
	var frame envelope
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	switch frame.Event {
	case eventConnected:
		return ConnectedEvent{}, nil
	case eventNewNotification:
		var data struct {
			Notification Notification `json:"notification"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, err
		}
		return NewNotificationEvent{Notification: data.Notification}, nil
	case eventUnreadCount:
		var data struct {
			Count int64 `json:"count"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, err
		}
		return UnreadCountEvent{Count: data.Count}, nil
	case eventUnreadNotifications:
		var data struct {
			Notifications []Notification `json:"notifications"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, err
		}
		return UnreadListEvent{Notifications: data.Notifications}, nil
	case eventAllRead:
		return AllReadEvent{}, nil
	case eventBroadcast:
		var data struct {
			Notification Notification `json:"notification"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, err
		}
		return BroadcastEvent{Notification: data.Notification}, nil
	default:
		return nil, fmt.Errorf("client: unknown channel event %q", frame.Event)
	}
}
