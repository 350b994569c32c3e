package wheel

import (
	"encoding/json"
	"time"
)

// WorkflowKind distinguishes the two workflows a draw can assign.
type WorkflowKind string

const (
	// WorkflowChallenge binds the draw to a real-world challenge with proof
	// submission and moderation.
	WorkflowChallenge WorkflowKind = "challenge"
	// WorkflowQuiz binds the draw to a single-answer quiz.
	WorkflowQuiz WorkflowKind = "quiz"
)

// DecisionState tracks the lifecycle of a pending decision.
type DecisionState string

const (
	// DecisionAwaiting means the user has not yet accepted, declined or answered.
	DecisionAwaiting DecisionState = "awaiting_decision"
	// DecisionAwaitingProof means a challenge was accepted and evidence is outstanding.
	DecisionAwaitingProof DecisionState = "awaiting_proof"
	// DecisionResolved is terminal for the day.
	DecisionResolved DecisionState = "resolved"
)

// WheelSpin records a single server-arbitrated draw. Rows are immutable and
// at most one exists per user per UTC day.
type WheelSpin struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_spins_user_day,priority:1"`
	GoalID    int       `gorm:"column:goal_id;not null"`
	Day       string    `gorm:"column:day;size:10;not null;uniqueIndex:idx_spins_user_day,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (WheelSpin) TableName() string {
	return "wheel_spins"
}

// PendingDecision is the unresolved workflow bound to a user's latest draw.
// One row per user; cleared (resolved) when the workflow reaches a terminal
// state.
type PendingDecision struct {
	UserID      string        `gorm:"column:user_id;primaryKey;size:190;not null"`
	SpinID      string        `gorm:"column:spin_id;size:190;not null"`
	GoalID      int           `gorm:"column:goal_id;not null"`
	Kind        WorkflowKind  `gorm:"column:kind;size:16;not null"`
	WorkflowRef string        `gorm:"column:workflow_ref;size:190;not null"`
	State       DecisionState `gorm:"column:state;size:24;not null"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PendingDecision) TableName() string {
	return "pending_decisions"
}

// Challenge is authorable content bound to a goal.
type Challenge struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	GoalID      int       `gorm:"column:goal_id;not null;index"`
	Description string    `gorm:"column:description;type:text;not null"`
	PointValue  int       `gorm:"column:point_value;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Challenge) TableName() string {
	return "challenges"
}

// Quiz is authorable content bound to a goal. CorrectIndex never leaves the
// server.
type Quiz struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	GoalID       int       `gorm:"column:goal_id;not null;index"`
	Question     string    `gorm:"column:question;type:text;not null"`
	ChoicesJSON  string    `gorm:"column:choices_json;type:text;not null"`
	CorrectIndex int       `gorm:"column:correct_index;not null"`
	PointValue   int       `gorm:"column:point_value;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Quiz) TableName() string {
	return "quizzes"
}

// Choices decodes the stored choice list.
func (q Quiz) Choices() []string {
	var choices []string
	if err := json.Unmarshal([]byte(q.ChoicesJSON), &choices); err != nil {
		return nil
	}
	return choices
}

// QuizView is the client-safe projection of a quiz.
type QuizView struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Choices    []string `json:"choices"`
	PointValue int      `json:"pointValue"`
}

// View strips server-private fields from a quiz.
func (q Quiz) View() QuizView {
	return QuizView{
		ID:         q.ID,
		Question:   q.Question,
		Choices:    q.Choices(),
		PointValue: q.PointValue,
	}
}

// ChallengeView is the client-safe projection of a challenge.
type ChallengeView struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PointValue  int    `json:"pointValue"`
}

// View returns the client projection of a challenge.
func (c Challenge) View() ChallengeView {
	return ChallengeView{ID: c.ID, Description: c.Description, PointValue: c.PointValue}
}
