// Package agentadapter specifies the Agent Adapter contract of spec.md §4.7
// and §6. The LLM agent itself is explicitly out of scope (spec.md §1); this
// package defines only the boundary the orchestrator drives and provides a
// Scripted reference adapter useful for tests and for hosts that want to
// drive the sandbox from a fixed plan rather than a live model.
package agentadapter

import (
	"context"
	"encoding/json"

	"github.com/semistrict/klendathu/toolsurface"
)

// Tools is the mapping name→tool callable the orchestrator hands to the
// adapter (spec.md §4.7, §6). Each call must reach the Tool Surface exactly
// once, in agent-issued order.
type Tools struct {
	Eval      func(code string) toolsurface.Response
	SetResult func(code string) toolsurface.Response
	Bail      func(message string) toolsurface.Response
}

// Request carries everything the adapter needs to drive one agent run.
type Request struct {
	// Prompt is the rendered instruction, schema, and context description
	// text (spec.md §4.6 LIVE: "render the prompt"). Schema/prompt rendering
	// is itself out of scope (spec.md §1); the orchestrator passes whatever
	// text its caller supplied or rendered upstream.
	Prompt string
	Tools  Tools
}

// Message is one opaque item in the agent's output stream (spec.md §4.7),
// stored verbatim in the transcript for diagnostic reading.
type Message = json.RawMessage

// Adapter invokes an external agent and translates its output stream into
// Tool Surface calls (spec.md §4.7). Implementations may run in-process
// (preferred) or out-of-process over a local socket; either way the Tool
// Surface operates synchronously from the agent's perspective (spec.md §5).
//
// Run must respect ctx cancellation: when ctx is done, the adapter should
// stop issuing further tool calls and close the returned channel promptly
// (spec.md §4.6 Cancellation — "the agent is asked to stop").
//
// For investigate mode (spec.md §6), Tools.SetResult and Tools.Bail are nil;
// the adapter must not invoke them and should treat stream completion as the
// end of the investigation, with the final text message (by convention, the
// last Message in the stream) taken as the free-form result by the caller of
// Adapter, not by Adapter itself.
type Adapter interface {
	Run(ctx context.Context, req Request) (<-chan Message, error)
}

// Func adapts a plain function to the Adapter interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type Func func(ctx context.Context, req Request) (<-chan Message, error)

// Run implements Adapter.
func (f Func) Run(ctx context.Context, req Request) (<-chan Message, error) {
	return f(ctx, req)
}
