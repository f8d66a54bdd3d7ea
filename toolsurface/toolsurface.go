// Package toolsurface implements the Tool Surface of spec.md §4.2: it
// translates the three agent-issued tools (eval, set_result, bail) into
// Evaluator calls and Transcript records, invoking a caller-supplied
// "on tool call" callback before returning to the agent.
package toolsurface

import (
	"encoding/json"

	"github.com/semistrict/klendathu/internal/klerrors"
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/transcript"
)

// Response is the single textual content block returned to the agent for a
// tool invocation (spec.md §4.2, §6).
type Response struct {
	Text    string
	IsError bool
}

// OnToolCall is invoked after every tool call, before the Response reaches
// the agent, so the Transcript is always updated (spec.md §4.2: "The Tool
// Surface MUST invoke a user-supplied on tool call callback").
type OnToolCall func(call transcript.Call)

// Surface wires an Evaluator to a Transcript callback and exposes the three
// agent tools.
type Surface struct {
	eval   *sandbox.Evaluator
	onCall OnToolCall

	// stopRequested is set after a successful set_result or a bail so the
	// orchestrator can tell the agent adapter to stop (spec.md §4.2
	// set_result: "signal orchestrator to stop the agent").
	stopRequested bool
}

// New constructs a Surface over ev, invoking onCall for every tool
// invocation. onCall must not be nil.
func New(ev *sandbox.Evaluator, onCall OnToolCall) *Surface {
	return &Surface{eval: ev, onCall: onCall}
}

// StopRequested reports whether a successful set_result or a bail has
// occurred, so the orchestrator knows to stop the agent adapter.
func (s *Surface) StopRequested() bool { return s.stopRequested }

// Eval handles the `eval` tool (spec.md §4.2): records Ok(serialized_output)
// on success and returns it as textual JSON (including console), or records
// Err(msg, stack) and returns the error text flagged isError.
func (s *Surface) Eval(code string) Response {
	outcome, err := s.eval.Eval(code)
	if err != nil {
		return s.recordErr(transcript.ToolEval, code, err)
	}
	payload := map[string]any{"result": outcome.Result}
	if len(outcome.Console) > 0 {
		payload["console"] = consoleJSON(outcome.Console)
	}
	s.onCall(transcript.Call{Tool: transcript.ToolEval, Code: code, Result: transcript.Ok(payload)})
	return Response{Text: mustJSON(payload)}
}

// SetResult handles the `set_result` tool (spec.md §4.2): on success records
// Ok(value), resolves completion, and signals the orchestrator to stop the
// agent via StopRequested. On error (sandbox throw or validation failure) it
// records Err and returns it flagged isError so the agent can retry.
func (s *Surface) SetResult(code string) Response {
	value, err := s.eval.SetResult(code)
	if err != nil {
		return s.recordErr(transcript.ToolSetResult, code, err)
	}
	s.onCall(transcript.Call{Tool: transcript.ToolSetResult, Code: code, Result: transcript.Ok(value)})
	s.stopRequested = true
	return Response{Text: "Result computed"}
}

// Bail handles the `bail` tool (spec.md §4.2): records the call, rejects
// completion, and returns "Implementation failed: <message>" flagged
// isError.
func (s *Surface) Bail(message string) Response {
	s.eval.SetBailError(message)
	s.onCall(transcript.Call{Tool: transcript.ToolBail, Code: message, Result: transcript.Ok(message)})
	s.stopRequested = true
	return Response{Text: "Implementation failed: " + message, IsError: true}
}

func (s *Surface) recordErr(tool transcript.Tool, code string, err error) Response {
	msg, stack := splitError(err)
	s.onCall(transcript.Call{Tool: tool, Code: code, Result: transcript.Err(msg, stack)})
	return Response{Text: msg, IsError: true}
}

func splitError(err error) (message, stack string) {
	kerr := klerrors.FromError(err)
	message = kerr.Message
	if kerr.Cause != nil {
		stack = kerr.Cause.Message
	}
	return message, stack
}

func consoleJSON(entries []sandbox.ConsoleEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"level": string(e.Level), "args": e.Args})
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode result"}`
	}
	return string(b)
}
