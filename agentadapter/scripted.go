package agentadapter

import (
	"context"
	"encoding/json"
)

// Step is one tool call in a Scripted plan.
type Step struct {
	Tool string // "eval", "set_result", or "bail"
	Code string // code for eval/set_result; message for bail
}

// Scripted replays a fixed plan of tool calls, standing in for a live LLM
// agent (spec.md §1: the agent itself is out of scope; a fixed plan is the
// simplest Adapter that exercises the rest of the system end to end). It runs
// the steps in order and continues past retryable error responses, so a plan
// can script its own retry (for example a second set_result); it stops after
// a successful set_result or a bail. It never adjusts or adds steps —
// Scripted is a test double, not a retrying agent.
type Scripted struct {
	Steps []Step
}

// NewScripted constructs a Scripted adapter over steps.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{Steps: steps}
}

// Run implements Adapter.
func (s *Scripted) Run(ctx context.Context, req Request) (<-chan Message, error) {
	out := make(chan Message, len(s.Steps))
	go func() {
		defer close(out)
		for _, step := range s.Steps {
			select {
			case <-ctx.Done():
				return
			default:
			}
			switch step.Tool {
			case "eval":
				r := req.Tools.Eval(step.Code)
				out <- marshalStep(step, r.Text, r.IsError)
			case "set_result":
				r := req.Tools.SetResult(step.Code)
				out <- marshalStep(step, r.Text, r.IsError)
				if !r.IsError {
					return
				}
			case "bail":
				r := req.Tools.Bail(step.Code)
				out <- marshalStep(step, r.Text, r.IsError)
				return
			}
		}
	}()
	return out, nil
}

func marshalStep(step Step, text string, isError bool) Message {
	b, err := json.Marshal(map[string]any{
		"tool":     step.Tool,
		"response": text,
		"is_error": isError,
	})
	if err != nil {
		return json.RawMessage(`{"error":"marshal failed"}`)
	}
	return b
}
