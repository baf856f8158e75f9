// Package model defines the core entities shared across storage, pipeline,
// and service layers: decisions, plan steps, background jobs, and the
// derived similarity matches returned by the retrieval engine.
package model

import (
	"strings"
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

// Outcome records how a completed decision turned out.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

// ValidOutcome reports whether s is one of the accepted outcome values.
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
		return true
	}
	return false
}

// NoClearPattern is the sentinel stored when the reflection is too vague
// to extract a success driver or failure reason from.
const NoClearPattern = "No clear pattern"

// StepStatus is a plan step's state.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepDone    StepStatus = "done"
	StepSkipped StepStatus = "skipped"
)

// PlanStep is one actionable item in a decision's plan. Steps are created
// during drafting, mutated by the user while the decision is ACTIVE, and
// frozen once it is COMPLETED.
type PlanStep struct {
	StepID string     `json:"step_id"`
	Desc   string     `json:"desc"`
	Status StepStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// Decision is a logged decision and everything the pipeline derives from it.
// The structured fields (What, Context, ExpectedOutput, Rationale) are nil
// until the draft stage fills them in; Outcome, Reflection, SuccessDriver,
// and FailureReason are populated only after the decision is COMPLETED.
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
	SearchText     string         `json:"-"`
	IsDeleted      bool           `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Progress returns the percentage of plan steps marked done, rounded to
// the nearest integer. An empty plan is 0%.
func (d Decision) Progress() int {
	if len(d.Plan) == 0 {
		return 0
	}
	done := 0
	for _, s := range d.Plan {
		if s.Status == StepDone {
			done++
		}
	}
	return int(float64(done)/float64(len(d.Plan))*100 + 0.5)
}

// SummarizePlan renders up to the first five plan steps as a compact
// "[status] desc" list for display and prompt grounding.
func SummarizePlan(steps []PlanStep) string {
	if len(steps) > 5 {
		steps = steps[:5]
	}
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, "["+string(s.Status)+"] "+s.Desc)
	}
	return strings.Join(parts, ", ")
}

// SimilarMatch is a retrieval result: a past completed decision with its
// raw cosine similarity and the denormalized fields needed for display and
// for grounding the drafting prompt. Derived, never stored as a row.
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

// Title returns the best short label for the matched decision: the
// structured What when drafted, otherwise the first 100 runes of raw input.
func (m SimilarMatch) Title() string {
	if m.What != nil && *m.What != "" {
		return *m.What
	}
	r := []rune(m.RawInput)
	if len(r) > 100 {
		r = r[:100]
	}
	return string(r)
}
