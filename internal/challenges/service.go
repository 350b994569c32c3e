package challenges

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/VerdantLoopLab/ecospin/backend/internal/notifications"
	"github.com/VerdantLoopLab/ecospin/backend/internal/users"
	"github.com/VerdantLoopLab/ecospin/backend/internal/wheel"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxReasonLength = 500

var (
	// ErrNoActiveChallenge indicates the user has no accepted challenge
	// awaiting evidence.
	ErrNoActiveChallenge = errors.New("challenges: no active challenge")
	// ErrEmptyMedia indicates a submit call without any media reference.
	ErrEmptyMedia = errors.New("challenges: media reference required")
	// ErrInvalidReason indicates a rejection without a usable reason.
	ErrInvalidReason = errors.New("challenges: rejection reason must be non-empty and at most 500 characters")
	// ErrProofNotFound indicates an unknown proof identifier.
	ErrProofNotFound = errors.New("challenges: proof not found")
	// ErrProofResolved indicates the proof already reached a terminal state.
	ErrProofResolved = errors.New("challenges: proof already resolved")

	errMissingDatabase = errors.New("challenges: database handle is required")
	errMissingGate     = errors.New("challenges: decision gate is required")
	errMissingScorer   = errors.New("challenges: scorer is required")
	errMissingMedia    = errors.New("challenges: media store is required")
)

// DecisionGate exposes the pending-decision state the proof workflow depends
// on. Implemented by wheel.Service.
type DecisionGate interface {
	AwaitingProof(ctx context.Context, userID string) (string, bool, error)
	ResolveDecision(ctx context.Context, userID string) error
	ChallengePoints(ctx context.Context, challengeID string) (int, error)
}

// Scorer applies point awards. Implemented by users.Service; the progression
// rule itself lives there.
type Scorer interface {
	AwardPoints(ctx context.Context, userID string, delta int) (users.User, error)
}

// Notifier publishes the notification side effect of a terminal transition.
type Notifier interface {
	Create(ctx context.Context, input notifications.CreateInput) (notifications.Notification, error)
}

// SubmitInput describes evidence for an accepted challenge. Either URL or
// File must be set; File takes precedence and is uploaded to the media store.
type SubmitInput struct {
	MediaType   string
	URL         string
	FileName    string
	ContentType string
	File        io.Reader
}

// ServiceConfig describes the dependencies of the proof service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Gate     DecisionGate
	Scorer   Scorer
	Notifier Notifier
	Media    MediaStore
	Logger   *zap.Logger
}

// Service owns the proof lifecycle and the moderation queue. Approve and
// Reject are the sole writers of terminal proof transitions and the sole
// upstream trigger of point awards and proof notifications.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	gate     DecisionGate
	scorer   Scorer
	notifier Notifier
	media    MediaStore
	logger   *zap.Logger
}

// NewService constructs the proof service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Gate == nil {
		return nil, errMissingGate
	}
	if cfg.Scorer == nil {
		return nil, errMissingScorer
	}
	if cfg.Media == nil {
		return nil, errMissingMedia
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		clock:    clock,
		gate:     cfg.Gate,
		scorer:   cfg.Scorer,
		notifier: cfg.Notifier,
		media:    cfg.Media,
		logger:   logger,
	}, nil
}

// Submit records new evidence for the user's accepted challenge. A rejection
// does not block resubmission: each submit creates a fresh proof row.
func (s *Service) Submit(ctx context.Context, userID string, input SubmitInput) (Proof, error) {
	challengeID, active, err := s.gate.AwaitingProof(ctx, userID)
	if err != nil {
		return Proof{}, err
	}
	if !active {
		return Proof{}, ErrNoActiveChallenge
	}

	url := strings.TrimSpace(input.URL)
	if url == "" && input.File == nil {
		return Proof{}, ErrEmptyMedia
	}

	if input.File != nil {
		key := fmt.Sprintf("proofs/%s/%s_%s", userID, uuid.NewString(), strings.TrimSpace(input.FileName))
		stored, err := s.media.Store(ctx, key, input.ContentType, input.File)
		if err != nil {
			return Proof{}, err
		}
		url = stored
	}

	mediaType := strings.TrimSpace(input.MediaType)
	if mediaType == "" {
		mediaType = "image"
	}

	proof := Proof{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChallengeID: challengeID,
		Status:      StatusSubmitted,
		MediaType:   mediaType,
		URL:         url,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&proof).Error; err != nil {
		return Proof{}, err
	}

	s.logger.Info("proof submitted",
		zap.String("user_id", userID),
		zap.String("proof_id", proof.ID),
	)
	return proof, nil
}

// Pending returns the moderation queue: every proof awaiting a verdict,
// oldest first.
func (s *Service) Pending(ctx context.Context) ([]Proof, error) {
	var rows []Proof
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusSubmitted).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Approve verifies the proof, awards the challenge's points to the submitter
// and emits exactly one PROOF_APPROVED notification.
func (s *Service) Approve(ctx context.Context, proofID string) (Proof, error) {
	proof, err := s.transition(ctx, proofID, StatusVerified, "")
	if err != nil {
		return Proof{}, err
	}

	points, err := s.gate.ChallengePoints(ctx, proof.ChallengeID)
	if err != nil {
		return Proof{}, err
	}
	if _, err := s.scorer.AwardPoints(ctx, proof.UserID, points); err != nil {
		return Proof{}, err
	}
	if err := s.gate.ResolveDecision(ctx, proof.UserID); err != nil && !errors.Is(err, wheel.ErrNoPendingDecision) {
		return Proof{}, err
	}

	s.notify(ctx, notifications.CreateInput{
		UserID:  proof.UserID,
		Type:    notifications.TypeProofApproved,
		Title:   "Challenge verified",
		Message: fmt.Sprintf("Your proof was approved. You earned %d points.", points),
		Payload: map[string]interface{}{"proofId": proof.ID, "pointsAwarded": points},
	})
	return proof, nil
}

// Reject terminates the proof with a mandatory, length-bounded reason and
// emits exactly one PROOF_REJECTED notification. The user's decision stays in
// the awaiting-proof sub-state so a new proof can be submitted.
func (s *Service) Reject(ctx context.Context, proofID, reason string) (Proof, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxReasonLength {
		return Proof{}, ErrInvalidReason
	}

	proof, err := s.transition(ctx, proofID, StatusRejected, trimmed)
	if err != nil {
		return Proof{}, err
	}

	s.notify(ctx, notifications.CreateInput{
		UserID:   proof.UserID,
		Type:     notifications.TypeProofRejected,
		Title:    "Proof rejected",
		Message:  trimmed,
		Priority: notifications.PriorityHigh,
		Payload:  map[string]interface{}{"proofId": proof.ID, "reason": trimmed},
	})
	return proof, nil
}

// Vote records a community endorsement on a proof still in moderation.
func (s *Service) Vote(ctx context.Context, proofID string) (Proof, error) {
	proof, err := s.byID(ctx, proofID)
	if err != nil {
		return Proof{}, err
	}
	if proof.Status != StatusSubmitted {
		return Proof{}, ErrProofResolved
	}
	err = s.db.WithContext(ctx).Model(&Proof{}).
		Where("id = ?", proofID).
		Update("vote_count", gorm.Expr("vote_count + 1")).Error
	if err != nil {
		return Proof{}, err
	}
	proof.VoteCount++
	return proof, nil
}

func (s *Service) transition(ctx context.Context, proofID string, to ProofStatus, reason string) (Proof, error) {
	proof, err := s.byID(ctx, proofID)
	if err != nil {
		return Proof{}, err
	}
	if !CanTransition(proof.Status, to) {
		return Proof{}, fmt.Errorf("%w: %s -> %s", ErrProofResolved, proof.Status, to)
	}

	updates := map[string]interface{}{"status": to}
	if reason != "" {
		updates["rejection_reason"] = reason
	}
	// Guard the write with the expected source state so concurrent verdicts
	// cannot both land.
	result := s.db.WithContext(ctx).Model(&Proof{}).
		Where("id = ? AND status = ?", proofID, proof.Status).
		Updates(updates)
	if result.Error != nil {
		return Proof{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Proof{}, ErrProofResolved
	}

	proof.Status = to
	proof.RejectionReason = reason
	s.logger.Info("proof transitioned",
		zap.String("proof_id", proofID),
		zap.String("status", string(to)),
	)
	return proof, nil
}

func (s *Service) byID(ctx context.Context, proofID string) (Proof, error) {
	var proof Proof
	err := s.db.WithContext(ctx).Where("id = ?", proofID).First(&proof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Proof{}, ErrProofNotFound
	}
	if err != nil {
		return Proof{}, err
	}
	return proof, nil
}

func (s *Service) notify(ctx context.Context, input notifications.CreateInput) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Create(ctx, input); err != nil {
		s.logger.Warn("failed to publish proof notification", zap.Error(err))
	}
}
