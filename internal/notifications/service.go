package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var (
	// ErrNotFound indicates the notification does not exist for the user.
	ErrNotFound = errors.New("notifications: not found")
	// ErrInvalidInput indicates a create call missing required fields.
	ErrInvalidInput = errors.New("notifications: invalid input")

	errMissingDatabase = errors.New("notifications: database handle is required")
)

// Publisher pushes a freshly created notification onto the persistent
// channel. Implemented by Hub; nil disables push delivery.
type Publisher interface {
	PublishNew(userID string, view View)
}

// CreateInput describes a notification to persist and push.
type CreateInput struct {
	UserID   string
	Type     string
	Title    string
	Message  string
	Priority string
	Payload  map[string]interface{}
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists notifications and exposes the reconciliation queries the
// client sync engine relies on. Ordering is always creation time descending,
// server-assigned.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	logger    *zap.Logger
	publisher Publisher
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// AttachPublisher wires the push channel. Must be called before serving.
func (s *Service) AttachPublisher(p Publisher) {
	s.publisher = p
}

// Create persists a notification and pushes it to the owner's live sessions.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.Type) == "" {
		return Notification{}, ErrInvalidInput
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	payloadJSON := ""
	if len(input.Payload) > 0 {
		raw, err := json.Marshal(input.Payload)
		if err != nil {
			return Notification{}, err
		}
		payloadJSON = string(raw)
	}

	notification := Notification{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Priority:    priority,
		PayloadJSON: payloadJSON,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, err
	}

	if s.publisher != nil {
		s.publisher.PublishNew(notification.UserID, notification.View())
	}

	s.logger.Debug("notification created",
		zap.String("user_id", notification.UserID),
		zap.String("type", notification.Type),
	)
	return notification, nil
}

// Page returns one page of the user's notifications, newest first.
func (s *Service) Page(ctx context.Context, userID string, page, limit int) ([]Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Unread returns the user's unread notifications, newest first.
func (s *Service) Unread(ctx context.Context, userID string) ([]Notification, error) {
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UnreadCount returns the authoritative unread counter.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead flags one notification as read. Marking an already-read row is a
// no-op, not an error.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	var notification Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, notificationID).
		First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if notification.IsRead {
		return nil
	}

	now := s.clock().UTC()
	return s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND id = ? AND is_read = ?", userID, notificationID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

// MarkAllRead flags every unread notification for the user.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	now := s.clock().UTC()
	return s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

// Delete removes one notification.
func (s *Service) Delete(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, notificationID).
		Delete(&Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired removes read notifications older than the cutoff. Returns the
// number of rows removed.
func (s *Service) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, olderThan.UTC()).
		Delete(&Notification{})
	return result.RowsAffected, result.Error
}
