package wheel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/VerdantLoopLab/ecospin/backend/internal/goals"
	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrAlreadySpun indicates the user already drew a goal today.
	ErrAlreadySpun = errors.New("wheel: already spun today")
	// ErrNoPendingDecision indicates there is nothing to resolve.
	ErrNoPendingDecision = errors.New("wheel: no pending decision")
	// ErrWrongWorkflow indicates the pending decision belongs to the other
	// workflow kind.
	ErrWrongWorkflow = errors.New("wheel: wrong workflow kind")
	// ErrAlreadyDecided indicates the challenge was already accepted or declined.
	ErrAlreadyDecided = errors.New("wheel: challenge already decided")
	// ErrAlreadyAnswered indicates the quiz answer was already submitted.
	ErrAlreadyAnswered = errors.New("wheel: quiz already answered")
	// ErrInvalidChoice indicates an out-of-range quiz choice index.
	ErrInvalidChoice = errors.New("wheel: invalid choice index")
	// ErrNoContent indicates no challenge or quiz exists for the drawn goal.
	ErrNoContent = errors.New("wheel: no workflow content for goal")

	errMissingDatabase   = errors.New("wheel: database handle is required")
	errMissingCatalog    = errors.New("wheel: goal catalog is required")
	errMissingUsers      = errors.New("wheel: user service is required")
	errMissingIDProvider = errors.New("wheel: id provider is required")
)

// Notifier publishes a notification as the side effect of a terminal
// transition. Implemented by notifications.Service.
type Notifier interface {
	Create(ctx context.Context, input notifications.CreateInput) (notifications.Notification, error)
}

// Outcome is the uniform result of a draw: one goal, one workflow, resolved
// server-side. Consumers branch on Kind only at presentation time.
type Outcome struct {
	SpinID       string         `json:"spinId"`
	Goal         goals.Goal     `json:"goal"`
	SegmentCount int            `json:"segmentCount"`
	Kind         WorkflowKind   `json:"workflowKind"`
	State        DecisionState  `json:"state"`
	Challenge    *ChallengeView `json:"challenge,omitempty"`
	Quiz         *QuizView      `json:"quiz,omitempty"`
}

// Status reports whether the user may spin and any unresolved outcome.
type Status struct {
	CanSpin    bool       `json:"canSpin"`
	LastSpinAt *time.Time `json:"lastSpinAt,omitempty"`
	Pending    *Outcome   `json:"pending,omitempty"`
}

// QuizResult carries the server-side verdict of a quiz answer.
type QuizResult struct {
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"pointsAwarded"`
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the wheel service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Catalog    *goals.Catalog
	Users      *users.Service
	Notifier   Notifier
	Logger     *zap.Logger
	// Draw overrides the weighted goal selection; used by tests.
	Draw func() goals.Goal
}

// Service owns the authoritative spin and decision state.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      IDProvider
	catalog  *goals.Catalog
	users    *users.Service
	notifier Notifier
	logger   *zap.Logger
	draw     func() goals.Goal

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewService constructs the wheel service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &Service{
		db:       cfg.Database,
		clock:    clock,
		ids:      cfg.IDProvider,
		catalog:  cfg.Catalog,
		users:    cfg.Users,
		notifier: cfg.Notifier,
		logger:   logger,
		rand:     rand.New(rand.NewSource(clock().UnixNano())),
	}
	service.draw = cfg.Draw
	if service.draw == nil {
		service.draw = func() goals.Goal {
			service.randMu.Lock()
			defer service.randMu.Unlock()
			return service.catalog.Draw(service.rand)
		}
	}
	return service, nil
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Spin performs the daily draw for the user. At most one spin per UTC day;
// a repeat attempt returns ErrAlreadySpun.
func (s *Service) Spin(ctx context.Context, userID string) (Outcome, error) {
	user, err := s.users.Ensure(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}

	now := s.clock()
	if user.LastSpinAt != nil && dayOf(*user.LastSpinAt) == dayOf(now) {
		return Outcome{}, ErrAlreadySpun
	}

	goal := s.draw()
	kind, ref, challenge, quiz, err := s.pickWorkflow(ctx, goal.ID)
	if err != nil {
		return Outcome{}, err
	}

	spinID, err := s.ids.NewID()
	if err != nil {
		return Outcome{}, err
	}

	spin := WheelSpin{
		ID:     spinID,
		UserID: userID,
		GoalID: goal.ID,
		Day:    dayOf(now),
	}
	decision := PendingDecision{
		UserID:      userID,
		SpinID:      spinID,
		GoalID:      goal.ID,
		Kind:        kind,
		WorkflowRef: ref,
		State:       DecisionAwaiting,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&spin).Error; err != nil {
			return err
		}
		// Replace any stale decision from a prior day.
		if err := tx.Where("user_id = ?", userID).Delete(&PendingDecision{}).Error; err != nil {
			return err
		}
		return tx.Create(&decision).Error
	})
	if err != nil {
		// The unique user+day index backs the daily invariant against
		// clock-skewed duplicates.
		var existing WheelSpin
		lookup := s.db.WithContext(ctx).
			Where("user_id = ? AND day = ?", userID, dayOf(now)).
			First(&existing).Error
		if lookup == nil {
			return Outcome{}, ErrAlreadySpun
		}
		return Outcome{}, err
	}

	if err := s.users.RecordSpin(ctx, userID, now); err != nil {
		return Outcome{}, err
	}

	s.logger.Info("wheel spun",
		zap.String("user_id", userID),
		zap.Int("goal_id", goal.ID),
		zap.String("workflow", string(kind)),
	)

	return s.outcome(spin.ID, goal, decision.State, kind, challenge, quiz), nil
}

// Status reports the daily gate and any unresolved outcome for the user.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	user, err := s.users.Ensure(ctx, userID)
	if err != nil {
		return Status{}, err
	}

	status := Status{CanSpin: true, LastSpinAt: user.LastSpinAt}
	now := s.clock()
	if user.LastSpinAt != nil && dayOf(*user.LastSpinAt) == dayOf(now) {
		status.CanSpin = false
	}

	var decision PendingDecision
	err = s.db.WithContext(ctx).Where("user_id = ?", userID).First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return status, nil
	}
	if err != nil {
		return Status{}, err
	}
	if decision.State == DecisionResolved {
		return status, nil
	}

	var spin WheelSpin
	if err := s.db.WithContext(ctx).Where("id = ?", decision.SpinID).First(&spin).Error; err != nil {
		return Status{}, err
	}
	// A decision only survives as pending for today's spin.
	if spin.Day != dayOf(now) {
		return status, nil
	}

	goal, err := s.catalog.ByID(decision.GoalID)
	if err != nil {
		return Status{}, err
	}
	challenge, quiz, err := s.loadWorkflow(ctx, decision.Kind, decision.WorkflowRef)
	if err != nil {
		return Status{}, err
	}
	outcome := s.outcome(decision.SpinID, goal, decision.State, decision.Kind, challenge, quiz)
	status.Pending = &outcome
	return status, nil
}

// AcceptChallenge moves a pending challenge into the awaiting-proof sub-state.
// No proof row is created; submission may happen later.
func (s *Service) AcceptChallenge(ctx context.Context, userID string) error {
	decision, err := s.pending(ctx, userID)
	if err != nil {
		return err
	}
	if decision.Kind != WorkflowChallenge {
		return ErrWrongWorkflow
	}
	if decision.State != DecisionAwaiting {
		return ErrAlreadyDecided
	}
	return s.setDecisionState(ctx, userID, DecisionAwaiting, DecisionAwaitingProof, ErrAlreadyDecided)
}

// DeclineChallenge is terminal for the day; the decision clears with no penalty.
func (s *Service) DeclineChallenge(ctx context.Context, userID string) error {
	decision, err := s.pending(ctx, userID)
	if err != nil {
		return err
	}
	if decision.Kind != WorkflowChallenge {
		return ErrWrongWorkflow
	}
	if decision.State != DecisionAwaiting {
		return ErrAlreadyDecided
	}
	return s.setDecisionState(ctx, userID, DecisionAwaiting, DecisionResolved, ErrAlreadyDecided)
}

// AnswerQuiz accepts exactly one immutable answer. Correctness and point
// value are judged here and nowhere else.
func (s *Service) AnswerQuiz(ctx context.Context, userID string, choiceIndex int) (QuizResult, error) {
	decision, err := s.pending(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoPendingDecision) {
			// A resolved quiz no longer surfaces as pending; repeats are
			// conflicts, not missing state.
			var resolved PendingDecision
			lookup := s.db.WithContext(ctx).
				Where("user_id = ? AND kind = ? AND state = ?", userID, WorkflowQuiz, DecisionResolved).
				First(&resolved).Error
			if lookup == nil {
				return QuizResult{}, ErrAlreadyAnswered
			}
		}
		return QuizResult{}, err
	}
	if decision.Kind != WorkflowQuiz {
		return QuizResult{}, ErrWrongWorkflow
	}
	if decision.State != DecisionAwaiting {
		return QuizResult{}, ErrAlreadyAnswered
	}

	var quiz Quiz
	if err := s.db.WithContext(ctx).Where("id = ?", decision.WorkflowRef).First(&quiz).Error; err != nil {
		return QuizResult{}, err
	}
	choices := quiz.Choices()
	if choiceIndex < 0 || choiceIndex >= len(choices) {
		return QuizResult{}, ErrInvalidChoice
	}

	result := QuizResult{Correct: choiceIndex == quiz.CorrectIndex}
	if result.Correct {
		result.PointsAwarded = quiz.PointValue
	}

	// The guarded write is the single point of resolution: of any number
	// of concurrent answers, exactly one lands and awards points.
	if err := s.setDecisionState(ctx, userID, DecisionAwaiting, DecisionResolved, ErrAlreadyAnswered); err != nil {
		return QuizResult{}, err
	}

	if result.Correct {
		if _, err := s.users.AwardPoints(ctx, userID, result.PointsAwarded); err != nil {
			return QuizResult{}, err
		}
	}

	if s.notifier != nil {
		message := "Better luck next time."
		if result.Correct {
			message = fmt.Sprintf("Correct! You earned %d points.", result.PointsAwarded)
		}
		_, err := s.notifier.Create(ctx, notifications.CreateInput{
			UserID:  userID,
			Type:    notifications.TypeQuizResult,
			Title:   "Quiz result",
			Message: message,
			Payload: map[string]interface{}{
				"correct":       result.Correct,
				"pointsAwarded": result.PointsAwarded,
			},
		})
		if err != nil {
			s.logger.Warn("failed to publish quiz notification", zap.Error(err))
		}
	}

	return result, nil
}

// AwaitingProof reports the challenge awaiting evidence from the user, if any.
func (s *Service) AwaitingProof(ctx context.Context, userID string) (string, bool, error) {
	var decision PendingDecision
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND state = ?", userID, WorkflowChallenge, DecisionAwaitingProof).
		First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return decision.WorkflowRef, true, nil
}

// ResolveDecision marks the user's decision terminal. Used by the moderation
// side effects when a proof verifies.
func (s *Service) ResolveDecision(ctx context.Context, userID string) error {
	return s.setDecisionState(ctx, userID, DecisionAwaitingProof, DecisionResolved, ErrNoPendingDecision)
}

// ChallengePoints returns the point value of a challenge.
func (s *Service) ChallengePoints(ctx context.Context, challengeID string) (int, error) {
	var challenge Challenge
	if err := s.db.WithContext(ctx).Where("id = ?", challengeID).First(&challenge).Error; err != nil {
		return 0, err
	}
	return challenge.PointValue, nil
}

func (s *Service) pending(ctx context.Context, userID string) (PendingDecision, error) {
	var decision PendingDecision
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND state <> ?", userID, DecisionResolved).
		First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PendingDecision{}, ErrNoPendingDecision
	}
	if err != nil {
		return PendingDecision{}, err
	}
	return decision, nil
}

// setDecisionState advances the decision only while it still holds the
// expected source state. Concurrent transitions race on the guard; the
// loser's write affects no rows and maps to conflict.
func (s *Service) setDecisionState(ctx context.Context, userID string, from, to DecisionState, conflict error) error {
	result := s.db.WithContext(ctx).Model(&PendingDecision{}).
		Where("user_id = ? AND state = ?", userID, from).
		Update("state", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return conflict
	}
	return nil
}

func (s *Service) pickWorkflow(ctx context.Context, goalID int) (WorkflowKind, string, *Challenge, *Quiz, error) {
	var challenge Challenge
	hasChallenge := s.db.WithContext(ctx).Where("goal_id = ?", goalID).First(&challenge).Error == nil

	var quiz Quiz
	hasQuiz := s.db.WithContext(ctx).Where("goal_id = ?", goalID).First(&quiz).Error == nil

	switch {
	case hasChallenge && hasQuiz:
		s.randMu.Lock()
		pickQuiz := s.rand.Intn(2) == 0
		s.randMu.Unlock()
		if pickQuiz {
			return WorkflowQuiz, quiz.ID, nil, &quiz, nil
		}
		return WorkflowChallenge, challenge.ID, &challenge, nil, nil
	case hasChallenge:
		return WorkflowChallenge, challenge.ID, &challenge, nil, nil
	case hasQuiz:
		return WorkflowQuiz, quiz.ID, nil, &quiz, nil
	default:
		return "", "", nil, nil, fmt.Errorf("%w: goal %d", ErrNoContent, goalID)
	}
}

func (s *Service) loadWorkflow(ctx context.Context, kind WorkflowKind, ref string) (*Challenge, *Quiz, error) {
	switch kind {
	case WorkflowChallenge:
		var challenge Challenge
		if err := s.db.WithContext(ctx).Where("id = ?", ref).First(&challenge).Error; err != nil {
			return nil, nil, err
		}
		return &challenge, nil, nil
	case WorkflowQuiz:
		var quiz Quiz
		if err := s.db.WithContext(ctx).Where("id = ?", ref).First(&quiz).Error; err != nil {
			return nil, nil, err
		}
		return nil, &quiz, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongWorkflow, kind)
	}
}

func (s *Service) outcome(spinID string, goal goals.Goal, state DecisionState, kind WorkflowKind, challenge *Challenge, quiz *Quiz) Outcome {
	outcome := Outcome{
		SpinID:       spinID,
		Goal:         goal,
		SegmentCount: s.catalog.Len(),
		Kind:         kind,
		State:        state,
	}
	if challenge != nil {
		view := challenge.View()
		outcome.Challenge = &view
	}
	if quiz != nil {
		view := quiz.View()
		outcome.Quiz = &view
	}
	return outcome
}
