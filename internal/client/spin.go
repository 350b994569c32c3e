package client

import (
	"context"
	"sync"
	"time"
)

// PendingDecision is the client's uniform view of an unresolved draw.
// Consumers branch on Kind only when presenting.
type PendingDecision struct {
	SpinID       string
	Goal         Goal
	SegmentCount int
	Kind         string
	State        string
	Challenge    *ChallengeInfo
	Quiz         *QuizInfo
}

// ResolveOutcome maps the server outcome onto the client decision shape.
func ResolveOutcome(outcome Outcome) *PendingDecision {
	return &PendingDecision{
		SpinID:       outcome.SpinID,
		Goal:         outcome.Goal,
		SegmentCount: outcome.SegmentCount,
		Kind:         outcome.Kind,
		State:        outcome.State,
		Challenge:    outcome.Challenge,
		Quiz:         outcome.Quiz,
	}
}

// SpinStore is the REST slice the gate needs. Implemented by RESTClient.
type SpinStore interface {
	Spin(ctx context.Context) (Outcome, error)
	SpinStatus(ctx context.Context) (SpinStatus, error)
}

// ErrAlreadySpunToday is the gate's fast-fail verdict. It mirrors the
// server's conflict so callers handle both paths identically.
var ErrAlreadySpunToday = &Failure{Kind: FailureConflict, Code: "already_spun"}

// SpinGate enforces the one-draw-per-day rule client-side. A spin inside the
// current UTC day fails immediately with no network call; the server's
// unique index remains the authority for skewed clocks.
type SpinGate struct {
	store SpinStore
	clock func() time.Time

	mu         sync.Mutex
	lastSpinAt *time.Time
	pending    *PendingDecision
}

// NewSpinGate constructs a gate over the REST store.
func NewSpinGate(store SpinStore, clock func() time.Time) *SpinGate {
	if clock == nil {
		clock = time.Now
	}
	return &SpinGate{store: store, clock: clock}
}

// Prime seeds the gate from a server status snapshot, typically at login.
func (g *SpinGate) Prime(status SpinStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSpinAt = status.LastSpinAt
	if status.Pending != nil {
		g.pending = ResolveOutcome(*status.Pending)
	} else {
		g.pending = nil
	}
}

// Pending returns the unresolved decision, if any.
func (g *SpinGate) Pending() *PendingDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// ClearPending drops the decision after terminal resolution.
func (g *SpinGate) ClearPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = nil
}

// SetPendingState updates the decision sub-state in place.
func (g *SpinGate) SetPendingState(state string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		g.pending.State = state
	}
}

// Spin performs the daily draw. Inside the current UTC day it fails fast
// without touching the network. A server-side conflict is folded into the
// same verdict after refreshing local state, so a skewed clock converges
// instead of erroring.
func (g *SpinGate) Spin(ctx context.Context) (*PendingDecision, error) {
	now := g.clock()
	g.mu.Lock()
	if g.lastSpinAt != nil && sameUTCDay(*g.lastSpinAt, now) {
		g.mu.Unlock()
		return nil, ErrAlreadySpunToday
	}
	g.mu.Unlock()

	outcome, err := g.store.Spin(ctx)
	if err != nil {
		if IsConflictCode(err, "already_spun") {
			g.refresh(ctx)
			return nil, ErrAlreadySpunToday
		}
		return nil, err
	}

	decision := ResolveOutcome(outcome)
	g.mu.Lock()
	spunAt := now
	g.lastSpinAt = &spunAt
	g.pending = decision
	g.mu.Unlock()
	return decision, nil
}

// refresh converges the gate on server truth after a conflict.
func (g *SpinGate) refresh(ctx context.Context) {
	status, err := g.store.SpinStatus(ctx)
	if err != nil {
		// Close the gate locally for the rest of the day anyway.
		now := g.clock()
		g.mu.Lock()
		g.lastSpinAt = &now
		g.mu.Unlock()
		return
	}
	g.Prime(status)
	if status.LastSpinAt == nil {
		now := g.clock()
		g.mu.Lock()
		g.lastSpinAt = &now
		g.mu.Unlock()
	}
}

func sameUTCDay(a, b time.Time) bool {
	return a.UTC().Format("2006-01-02") == b.UTC().Format("2006-01-02")
}
