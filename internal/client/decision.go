package client

import (
	"context"
	"strings"
	"sync"
)

// Decision workflow kinds and sub-states as the server names them.
const (
	KindChallenge = "challenge"
	KindQuiz      = "quiz"

	StateAwaitingDecision = "awaiting_decision"
	StateAwaitingProof    = "awaiting_proof"
)

// DecisionStore is the REST slice the flow needs. Implemented by RESTClient.
type DecisionStore interface {
	AcceptChallenge(ctx context.Context) error
	DeclineChallenge(ctx context.Context) error
	AnswerQuiz(ctx context.Context, choiceIndex int) (QuizResult, error)
	SubmitProof(ctx context.Context, input ProofInput) (ProofView, error)
}

// DecisionFlow resolves the pending decision: accept or decline a challenge,
// answer a quiz exactly once, submit proof. Correctness of an answer is
// never judged locally.
type DecisionFlow struct {
	store DecisionStore
	gate  *SpinGate

	mu       sync.Mutex
	answered bool
}

// NewDecisionFlow constructs the flow over the gate's pending decision.
func NewDecisionFlow(store DecisionStore, gate *SpinGate) *DecisionFlow {
	return &DecisionFlow{store: store, gate: gate}
}

// Accept moves a pending challenge into the awaiting-proof sub-state. No
// proof is created; submission may happen any time later.
func (f *DecisionFlow) Accept(ctx context.Context) error {
	if err := f.requireKind(KindChallenge); err != nil {
		return err
	}
	if err := f.store.AcceptChallenge(ctx); err != nil {
		return err
	}
	f.gate.SetPendingState(StateAwaitingProof)
	return nil
}

// Decline is terminal for the day: the decision clears with no penalty.
func (f *DecisionFlow) Decline(ctx context.Context) error {
	if err := f.requireKind(KindChallenge); err != nil {
		return err
	}
	if err := f.store.DeclineChallenge(ctx); err != nil {
		return err
	}
	f.gate.ClearPending()
	return nil
}

// Answer submits the quiz choice. Exactly one answer is ever sent; repeats
// fail locally before reaching the network.
func (f *DecisionFlow) Answer(ctx context.Context, choiceIndex int) (QuizResult, error) {
	if err := f.requireKind(KindQuiz); err != nil {
		return QuizResult{}, err
	}

	// Claim the single attempt before touching the network so a racing
	// repeat cannot send a second answer.
	f.mu.Lock()
	if f.answered {
		f.mu.Unlock()
		return QuizResult{}, &Failure{Kind: FailureConflict, Code: "already_answered"}
	}
	f.answered = true
	f.mu.Unlock()

	result, err := f.store.AnswerQuiz(ctx, choiceIndex)
	if err != nil {
		if IsConflictCode(err, "already_answered") {
			f.gate.ClearPending()
			return QuizResult{}, err
		}
		// The attempt never landed; release the claim.
		f.mu.Lock()
		f.answered = false
		f.mu.Unlock()
		return QuizResult{}, err
	}

	f.gate.ClearPending()
	return result, nil
}

// SubmitProof uploads evidence for the accepted challenge. An empty media
// reference is a local validation failure; no request is made.
func (f *DecisionFlow) SubmitProof(ctx context.Context, input ProofInput) (ProofView, error) {
	if strings.TrimSpace(input.URL) == "" && input.File == nil {
		return ProofView{}, &Failure{Kind: FailureValidation, Code: "empty_media"}
	}
	return f.store.SubmitProof(ctx, input)
}

func (f *DecisionFlow) requireKind(kind string) error {
	pending := f.gate.Pending()
	if pending == nil {
		return &Failure{Kind: FailureRejection, Code: "no_pending_decision"}
	}
	if pending.Kind != kind {
		return &Failure{Kind: FailureRejection, Code: "wrong_workflow"}
	}
	return nil
}
