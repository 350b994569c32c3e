package notifications

import (
	"encoding/json"
	"time"
)

// Notification types emitted by the engagement workflows.
const (
	TypeQuizResult    = "QUIZ_RESULT"
	TypeProofApproved = "PROOF_APPROVED"
	TypeProofRejected = "PROOF_REJECTED"
	TypeBroadcast     = "BROADCAST"
)

// Priority levels for notification rendering.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is a per-user message created by server-side effects of
// terminal transitions. Rows are removable only by explicit user delete or
// the retention sweep.
type Notification struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID      string     `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_created,priority:1"`
	Type        string     `gorm:"column:type;size:64;not null"`
	Title       string     `gorm:"column:title;size:320;not null"`
	Message     string     `gorm:"column:message;type:text"`
	IsRead      bool       `gorm:"column:is_read;not null;default:false"`
	ReadAt      *time.Time `gorm:"column:read_at"`
	Priority    string     `gorm:"column:priority;size:16;not null;default:'normal'"`
	PayloadJSON string     `gorm:"column:payload_json;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_notifications_user_created,priority:2,sort:desc"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// View is the wire projection shared by the REST API and the persistent
// channel.
type View struct {
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

// View projects the stored row onto the wire shape.
func (n Notification) View() View {
	view := View{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
	}
	if n.PayloadJSON != "" {
		payload := map[string]interface{}{}
		if err := json.Unmarshal([]byte(n.PayloadJSON), &payload); err == nil {
			view.Payload = payload
		}
	}
	return view
}
