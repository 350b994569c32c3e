package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// SyncState is the lifecycle of the notification cache.
type SyncState string

const (
	SyncUninitialized SyncState = "UNINITIALIZED"
	SyncSyncing       SyncState = "SYNCING"
	SyncReady         SyncState = "READY"
)

const (
	syncPageLimit     = 20
	tombstoneCapacity = 256
)

// NotificationStore is the REST slice the sync engine needs. Implemented by
// RESTClient.
type NotificationStore interface {
	Notifications(ctx context.Context, page, limit int) ([]Notification, int64, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, notificationID string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, notificationID string) error
}

// CommandSender is the channel half of a dual write. Implemented by
// ConnectionManager; send failures are advisory.
type CommandSender interface {
	Send(command string, data interface{}) error
}

// NotificationSyncEngine holds the client's notification cache: an ordered
// list (server creation time, newest first) and an unread counter. The cache
// is derived state, never authoritative; every divergence is repaired by a
// full resync against the server, not a partial patch.
type NotificationSyncEngine struct {
	store  NotificationStore
	sender CommandSender
	logger *zap.Logger

	mu         sync.Mutex
	state      SyncState
	items      []Notification
	unread     int64
	tombstones *lru.Cache
}

// SyncEngineConfig wires the engine's collaborators.
type SyncEngineConfig struct {
	Store  NotificationStore
	Sender CommandSender
	Logger *zap.Logger
}

// NewSyncEngine constructs an engine in the uninitialized state.
func NewSyncEngine(cfg SyncEngineConfig) (*NotificationSyncEngine, error) {
	if cfg.Store == nil {
		return nil, errors.New("client: notification store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tombstones, err := lru.New(tombstoneCapacity)
	if err != nil {
		return nil, err
	}
	return &NotificationSyncEngine{
		store:      cfg.Store,
		sender:     cfg.Sender,
		logger:     logger,
		state:      SyncUninitialized,
		tombstones: tombstones,
	}, nil
}

// AttachSender installs the channel half of the dual write.
func (e *NotificationSyncEngine) AttachSender(sender CommandSender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
}

// State reports the engine lifecycle state.
func (e *NotificationSyncEngine) State() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UnreadCount reports the cached unread counter.
func (e *NotificationSyncEngine) UnreadCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread
}

// Notifications returns a copy of the ordered cache, newest first.
func (e *NotificationSyncEngine) Notifications() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Notification, len(e.items))
	copy(out, e.items)
	return out
}

// HandleEvent feeds one channel event into the cache. Implements EventSink.
func (e *NotificationSyncEngine) HandleEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := event.(type) {
	case ConnectedEvent:
		// The resync handshake is in flight; snapshots follow.
		if e.state == SyncUninitialized {
			e.state = SyncSyncing
		}
	case NewNotificationEvent:
		e.absorbPushLocked(ev.Notification)
	case BroadcastEvent:
		e.absorbPushLocked(ev.Notification)
	case UnreadCountEvent:
		// Snapshot overwrites; the counter is never recomputed from the
		// partial list.
		e.unread = ev.Count
		if e.unread < 0 {
			e.unread = 0
		}
		e.state = SyncReady
	case UnreadListEvent:
		e.mergeLocked(ev.Notifications)
		e.state = SyncReady
	case AllReadEvent:
		for i := range e.items {
			e.items[i].IsRead = true
		}
		e.unread = 0
	}
}

// Load fetches the first page over REST when the cache is empty; the panel's
// first open works before any channel traffic arrives.
func (e *NotificationSyncEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	empty := len(e.items) == 0
	e.mu.Unlock()
	if !empty {
		return nil
	}
	return e.resync(ctx)
}

// MarkAsRead applies the mutation optimistically, then dual-writes: a
// fire-and-forget channel command plus an awaited REST call. REST failure
// triggers a full resync, never a partial rollback.
func (e *NotificationSyncEngine) MarkAsRead(ctx context.Context, notificationID string) error {
	e.mu.Lock()
	if e.tombstones.Contains(notificationID) {
		// The id was deleted locally; further operations on it are
		// no-ops, with no writes for the server to reject.
		e.mu.Unlock()
		return nil
	}
	for i := range e.items {
		if e.items[i].ID == notificationID && !e.items[i].IsRead {
			e.items[i].IsRead = true
			e.decrementUnreadLocked()
			break
		}
	}
	e.mu.Unlock()

	e.sendCommand(commandMarkRead, map[string]string{"id": notificationID})
	if err := e.store.MarkRead(ctx, notificationID); err != nil {
		return e.repair(ctx, err)
	}
	return nil
}

// MarkAllRead is the bulk variant of MarkAsRead.
func (e *NotificationSyncEngine) MarkAllRead(ctx context.Context) error {
	e.mu.Lock()
	for i := range e.items {
		e.items[i].IsRead = true
	}
	e.unread = 0
	e.mu.Unlock()

	e.sendCommand(commandMarkAllRead, nil)
	if err := e.store.MarkAllRead(ctx); err != nil {
		return e.repair(ctx, err)
	}
	return nil
}

// Delete removes the notification optimistically and tombstones its id so a
// late push or stale snapshot cannot resurrect it.
func (e *NotificationSyncEngine) Delete(ctx context.Context, notificationID string) error {
	e.mu.Lock()
	if e.tombstones.Contains(notificationID) {
		// Already deleted; repeating is a no-op, not a second REST call
		// for the server to 404.
		e.mu.Unlock()
		return nil
	}
	for i := range e.items {
		if e.items[i].ID != notificationID {
			continue
		}
		if !e.items[i].IsRead {
			e.decrementUnreadLocked()
		}
		e.items = append(e.items[:i], e.items[i+1:]...)
		break
	}
	e.tombstones.Add(notificationID, struct{}{})
	e.mu.Unlock()

	if err := e.store.DeleteNotification(ctx, notificationID); err != nil {
		return e.repair(ctx, err)
	}
	return nil
}

// Resync re-fetches page one and the unread counter, converging the cache on
// server truth.
func (e *NotificationSyncEngine) Resync(ctx context.Context) error {
	return e.resync(ctx)
}

func (e *NotificationSyncEngine) resync(ctx context.Context) error {
	e.mu.Lock()
	e.state = SyncSyncing
	e.mu.Unlock()

	items, _, err := e.store.Notifications(ctx, 1, syncPageLimit)
	if err != nil {
		return err
	}
	count, err := e.store.UnreadCount(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.mergeLocked(items)
	e.unread = count
	if e.unread < 0 {
		e.unread = 0
	}
	e.state = SyncReady
	e.mu.Unlock()
	return nil
}

// repair runs a best-effort resync after a failed REST write and returns the
// original failure.
func (e *NotificationSyncEngine) repair(ctx context.Context, cause error) error {
	if err := e.resync(ctx); err != nil {
		e.logger.Warn("resync after failed mutation failed", zap.Error(err))
	}
	return cause
}

func (e *NotificationSyncEngine) sendCommand(command string, data interface{}) {
	e.mu.Lock()
	sender := e.sender
	e.mu.Unlock()
	if sender == nil {
		return
	}
	if err := sender.Send(command, data); err != nil {
		e.logger.Debug("channel command dropped", zap.String("command", command), zap.Error(err))
	}
}

// absorbPushLocked prepends an unseen notification and bumps the unread
// counter by exactly one. A push racing a resync dedups by id here.
func (e *NotificationSyncEngine) absorbPushLocked(notification Notification) {
	if e.tombstones.Contains(notification.ID) {
		return
	}
	for _, item := range e.items {
		if item.ID == notification.ID {
			return
		}
	}
	e.items = append([]Notification{notification}, e.items...)
	e.sortLocked()
	if !notification.IsRead {
		e.unread++
	}
}

// mergeLocked unions a server snapshot into the cache by id. Server rows win
// over cached ones; ordering is re-established from server creation time.
func (e *NotificationSyncEngine) mergeLocked(incoming []Notification) {
	byID := make(map[string]int, len(e.items))
	for i, item := range e.items {
		byID[item.ID] = i
	}
	for _, notification := range incoming {
		if e.tombstones.Contains(notification.ID) {
			continue
		}
		if i, ok := byID[notification.ID]; ok {
			e.items[i] = notification
			continue
		}
		e.items = append(e.items, notification)
		byID[notification.ID] = len(e.items) - 1
	}
	e.sortLocked()
}

func (e *NotificationSyncEngine) sortLocked() {
	sort.SliceStable(e.items, func(i, j int) bool {
		if e.items[i].CreatedAt.Equal(e.items[j].CreatedAt) {
			return e.items[i].ID > e.items[j].ID
		}
		return e.items[i].CreatedAt.After(e.items[j].CreatedAt)
	})
}

func (e *NotificationSyncEngine) decrementUnreadLocked() {
	if e.unread > 0 {
		e.unread--
	}
}
