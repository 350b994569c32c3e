package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SessionConfig describes one authenticated login.
type SessionConfig struct {
	// BaseURL is the HTTP API root, e.g. http://host.
	BaseURL string
	// ChannelURL is the websocket endpoint, e.g. ws://host/ws.
	ChannelURL string
	Token      string
	Dialer     Dialer
	Clock      func() time.Time
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnUnauthenticated runs once when any call fails with an auth
	// failure; the session disconnects first.
	OnUnauthenticated func()
}

// Session is the per-login engine. It is constructed explicitly on login,
// injected into consumers, and closed on logout; no ambient global state
// survives it.
type Session struct {
	rest       *RESTClient
	connection *ConnectionManager
	sync       *NotificationSyncEngine
	gate       *SpinGate
	flow       *DecisionFlow
	animator   *AnimationSynchronizer
	logger     *zap.Logger

	onUnauthenticated func()
}

// NewSession wires the SDK components for one login.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" || cfg.ChannelURL == "" {
		return nil, errors.New("client: base and channel urls are required")
	}
	if cfg.Token == "" {
		return nil, errors.New("client: credential is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rest := NewRESTClient(cfg.BaseURL, cfg.Token)
	syncEngine, err := NewSyncEngine(SyncEngineConfig{Store: rest, Logger: logger})
	if err != nil {
		return nil, err
	}
	connection, err := NewConnectionManager(ConnectionManagerConfig{
		URL:        cfg.ChannelURL,
		Dialer:     cfg.Dialer,
		Sink:       syncEngine,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	syncEngine.AttachSender(connection)

	gate := NewSpinGate(rest, cfg.Clock)
	return &Session{
		rest:              rest,
		connection:        connection,
		sync:              syncEngine,
		gate:              gate,
		flow:              NewDecisionFlow(rest, gate),
		animator:          NewAnimationSynchronizer(nil),
		logger:            logger,
		onUnauthenticated: cfg.OnUnauthenticated,
	}, nil
}

// Start primes the spin gate from server state and opens the channel. A
// channel failure is non-fatal; REST paths keep working.
func (s *Session) Start(ctx context.Context) error {
	status, err := s.rest.SpinStatus(ctx)
	if err != nil {
		return s.noteFailure(err)
	}
	s.gate.Prime(status)

	if err := s.connection.Connect(ctx, s.rest.token); err != nil {
		s.logger.Warn("channel connect failed, continuing over REST", zap.Error(err))
	}
	return nil
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.connection.Disconnect()
}

// Connection exposes the channel manager.
func (s *Session) Connection() *ConnectionManager { return s.connection }

// Sync exposes the notification engine.
func (s *Session) Sync() *NotificationSyncEngine { return s.sync }

// Gate exposes the spin gate.
func (s *Session) Gate() *SpinGate { return s.gate }

// Animator exposes the reveal planner.
func (s *Session) Animator() *AnimationSynchronizer { return s.animator }

// Spin draws today's goal through the gate.
func (s *Session) Spin(ctx context.Context) (*PendingDecision, error) {
	decision, err := s.gate.Spin(ctx)
	return decision, s.noteFailure(err)
}

// AcceptChallenge resolves the pending challenge into awaiting proof.
func (s *Session) AcceptChallenge(ctx context.Context) error {
	return s.noteFailure(s.flow.Accept(ctx))
}

// DeclineChallenge clears the pending challenge for the day.
func (s *Session) DeclineChallenge(ctx context.Context) error {
	return s.noteFailure(s.flow.Decline(ctx))
}

// AnswerQuiz submits the single allowed quiz answer.
func (s *Session) AnswerQuiz(ctx context.Context, choiceIndex int) (QuizResult, error) {
	result, err := s.flow.Answer(ctx, choiceIndex)
	return result, s.noteFailure(err)
}

// SubmitProof uploads challenge evidence.
func (s *Session) SubmitProof(ctx context.Context, input ProofInput) (ProofView, error) {
	proof, err := s.flow.SubmitProof(ctx, input)
	return proof, s.noteFailure(err)
}

// MarkNotificationRead applies the optimistic read mutation.
func (s *Session) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return s.noteFailure(s.sync.MarkAsRead(ctx, notificationID))
}

// MarkAllNotificationsRead applies the bulk read mutation.
func (s *Session) MarkAllNotificationsRead(ctx context.Context) error {
	return s.noteFailure(s.sync.MarkAllRead(ctx))
}

// DeleteNotification removes a notification permanently.
func (s *Session) DeleteNotification(ctx context.Context, notificationID string) error {
	return s.noteFailure(s.sync.Delete(ctx, notificationID))
}

// noteFailure implements the collaborator contract: any auth failure
// disconnects the channel and runs the hook.
func (s *Session) noteFailure(err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, FailureAuth) {
		s.connection.Disconnect()
		if s.onUnauthenticated != nil {
			s.onUnauthenticated()
		}
	}
	return err
}
