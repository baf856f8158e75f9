package kiroku

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a decision.
type Status string

const (
	StatusPlanning  Status = "PLANNING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Outcome records how a completed decision turned out.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePartial Outcome = "PARTIAL"
)

// Step statuses for plan execution.
const (
	StepPending = "pending"
	StepDone    = "done"
	StepSkipped = "skipped"
)

// PlanStep is one actionable item in a decision's plan.
type PlanStep struct {
	StepID string `json:"step_id"`
	Desc   string `json:"desc"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// SimilarMatch is a past decision surfaced during drafting because its
// content resembles the new one.
type SimilarMatch struct {
	DecisionID     uuid.UUID  `json:"decision_id"`
	Similarity     float32    `json:"similarity"`
	What           *string    `json:"what,omitempty"`
	RawInput       string     `json:"raw_input"`
	Context        *string    `json:"context,omitempty"`
	ExpectedOutput *string    `json:"expected_output,omitempty"`
	Rationale      *string    `json:"decision_rationale,omitempty"`
	Outcome        *Outcome   `json:"outcome,omitempty"`
	Reflection     *string    `json:"reflection,omitempty"`
	SuccessDriver  *string    `json:"success_driver,omitempty"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
	PlanSummary    string     `json:"plan_summary,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Decision is a single tracked decision as returned by the API. Optional
// fields are nil until the drafting or reflection stages fill them in.
type Decision struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Status  Status    `json:"status"`

	RawInput string `json:"raw_input"`

	What           *string `json:"what,omitempty"`
	Context        *string `json:"context,omitempty"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
	Rationale      *string `json:"decision_rationale,omitempty"`

	Insight *string    `json:"insight,omitempty"`
	Plan    []PlanStep `json:"plan"`

	Outcome       *Outcome `json:"outcome,omitempty"`
	Reflection    *string  `json:"reflection,omitempty"`
	SuccessDriver *string  `json:"success_driver,omitempty"`
	FailureReason *string  `json:"failure_reason,omitempty"`

	SimilarMatches []SimilarMatch `json:"similar_matches"`

	ProgressPercentage int `json:"progress_percentage"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ChatMessage is one turn of a plan discussion. Role is "user" or
// "assistant"; the caller accumulates the history and sends the full
// conversation each turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatReply is the advisor's answer to a plan discussion turn. RevisedPlan
// is nil when the conversation did not change the plan; a non-nil revision
// is a proposal to confirm through UpdatePlan, never applied automatically.
type ChatReply struct {
	Reply       string     `json:"reply"`
	RevisedPlan []PlanStep `json:"revised_plan,omitempty"`
}

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
