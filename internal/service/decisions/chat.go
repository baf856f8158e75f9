package decisions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kirokuhq/kiroku/internal/model"
	"github.com/kirokuhq/kiroku/internal/reasoner"
)

// ChatReply is the advisor's answer to a plan discussion turn. RevisedPlan
// is nil when the conversation did not change the plan.
type ChatReply struct {
	Reply       string           `json:"reply"`
	RevisedPlan []model.PlanStep `json:"revised_plan,omitempty"`
}

// chatDecoded mirrors the JSON the model is asked to produce.
type chatDecoded struct {
	Reply       string           `json:"reply"`
	RevisedPlan []model.PlanStep `json:"revised_plan"`
}

// ChatAboutPlan holds a conversation about a decision's current plan. The
// caller accumulates the message history; each call sends the full
// conversation. A proposed plan revision is returned for the user to
// confirm through UpdatePlan, never applied directly.
func (s *Service) ChatAboutPlan(ctx context.Context, id uuid.UUID, history []reasoner.Message) (ChatReply, error) {
	d, err := s.db.GetDecision(ctx, id)
	if err != nil {
		return ChatReply{}, err
	}

	messages := make([]reasoner.Message, 0, len(history)+1)
	messages = append(messages, reasoner.Message{Role: "system", Content: chatSystemPrompt(d)})
	messages = append(messages, history...)

	raw, err := s.llm.CompleteMessages(ctx, messages, false)
	if err != nil {
		return ChatReply{}, fmt.Errorf("decisions: plan chat: %w", err)
	}

	decoded, ok := reasoner.DecodeJSON[chatDecoded](raw).Value()
	if !ok {
		// A non-JSON answer is still a usable reply, just with no revision.
		return ChatReply{Reply: raw}, nil
	}
	reply := decoded.Reply
	if reply == "" {
		reply = raw
	}
	return ChatReply{Reply: reply, RevisedPlan: decoded.RevisedPlan}, nil
}

func chatSystemPrompt(d model.Decision) string {
	title := d.RawInput
	if d.What != nil && *d.What != "" {
		title = *d.What
	}

	var plan strings.Builder
	for i, step := range d.Plan {
		fmt.Fprintf(&plan, "%d. [%s] %s", i+1, step.Status, step.Desc)
		if step.Note != "" {
			fmt.Fprintf(&plan, " (note: %s)", step.Note)
		}
		plan.WriteString("\n")
	}

	return fmt.Sprintf(`You are an advisor helping the user work through a decision.
Decision: %s
Context: %s
Expected Output: %s

Current plan:
%s
The user wants to discuss or modify this plan.
Always respond in JSON: { "reply": "your message", "revised_plan": [...] | null }
revised_plan items: { step_id (uuid), desc (string), status ("pending"|"done"|"skipped"), note (string, optional) }.`,
		title, strDeref(d.Context), strDeref(d.ExpectedOutput), plan.String())
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
