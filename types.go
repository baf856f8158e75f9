package kiroku

import (
	"time"

	"github.com/google/uuid"
)

// Status is a decision's lifecycle state.
type Status string

const (
	StatusPlanning  Status = "PLANNING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Outcome is the result recorded when a decision completes.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

// PlanStep is one actionable item in a decision's plan.
type PlanStep struct {
	StepID string `json:"step_id"`
	Desc   string `json:"desc"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// Decision is the public representation of a recorded decision.
// It is a curated view of the internal model for use in extension
// interfaces; optional fields are empty strings when not yet derived.
// No internal package imports, so it is safe to use from outside the module.
type Decision struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Status  Status    `json:"status"`

	RawInput       string `json:"raw_input"`
	What           string `json:"what,omitempty"`
	Context        string `json:"context,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	Rationale      string `json:"decision_rationale,omitempty"`
	Insight        string `json:"insight,omitempty"`

	Plan []PlanStep `json:"plan"`

	Outcome       Outcome `json:"outcome,omitempty"`
	Reflection    string  `json:"reflection,omitempty"`
	SuccessDriver string  `json:"success_driver,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Message is one turn of a reasoner conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
