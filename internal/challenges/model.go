package challenges

import (
	"fmt"
	"time"
)

// ProofStatus enumerates the proof lifecycle states.
type ProofStatus string

const (
	// StatusPending means the challenge was accepted but no evidence exists yet.
	StatusPending ProofStatus = "PENDING"
	// StatusSubmitted means evidence awaits moderation.
	StatusSubmitted ProofStatus = "PROOF_SUBMITTED"
	// StatusVerified is terminal; the proof was approved by a moderator.
	StatusVerified ProofStatus = "VERIFIED"
	// StatusRejected is terminal; a resubmission creates a new proof.
	StatusRejected ProofStatus = "REJECTED"
)

// transitions is the complete set of legal proof moves. Terminal states have
// no outgoing edges, so a REJECTED proof can never become VERIFIED no matter
// what a caller asks for.
var transitions = map[ProofStatus][]ProofStatus{
	StatusPending:   {StatusSubmitted},
	StatusSubmitted: {StatusVerified, StatusRejected},
}

// CanTransition reports whether from→to is a legal proof move.
func CanTransition(from, to ProofStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status ProofStatus) bool {
	return len(transitions[status]) == 0
}

// Proof is user-submitted evidence of challenge completion. Mutated only by
// moderation, never deleted; a rejected proof is replaced, not revived.
type Proof struct {
	ID              string      `gorm:"column:id;primaryKey;size:190;not null"`
	UserID          string      `gorm:"column:user_id;size:190;not null;index"`
	ChallengeID     string      `gorm:"column:challenge_id;size:190;not null;index"`
	Status          ProofStatus `gorm:"column:status;size:24;not null;index"`
	MediaType       string      `gorm:"column:media_type;size:64"`
	URL             string      `gorm:"column:url;size:512;not null"`
	RejectionReason string      `gorm:"column:rejection_reason;size:512"`
	VoteCount       int         `gorm:"column:vote_count;not null;default:0"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Proof) TableName() string {
	return "proofs"
}

// View is the wire projection of a proof.
type View struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ChallengeID     string    `json:"challengeId"`
	Status          string    `json:"status"`
	MediaType       string    `json:"mediaType,omitempty"`
	URL             string    `json:"url"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	VoteCount       int       `json:"voteCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// View projects the stored row onto the wire shape.
func (p Proof) View() View {
	return View{
		ID:              p.ID,
		UserID:          p.UserID,
		ChallengeID:     p.ChallengeID,
		Status:          string(p.Status),
		MediaType:       p.MediaType,
		URL:             p.URL,
		RejectionReason: p.RejectionReason,
		VoteCount:       p.VoteCount,
		CreatedAt:       p.CreatedAt,
	}
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (ProofStatus, error) {
	switch ProofStatus(raw) {
	case StatusPending, StatusSubmitted, StatusVerified, StatusRejected:
		return ProofStatus(raw), nil
	default:
		return "", fmt.Errorf("challenges: unknown proof status %q", raw)
	}
}
