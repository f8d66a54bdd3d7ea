// Package orchestrator owns the request lifecycle of spec.md §4.6: building
// context, consulting the cache, driving either the replay engine or a live
// agent run, and surfacing a validated result or a structured failure.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	kctx "github.com/semistrict/klendathu/context"
	"github.com/semistrict/klendathu/cache"
	"github.com/semistrict/klendathu/internal/klerrors"
	"github.com/semistrict/klendathu/internal/telemetry"
	"github.com/semistrict/klendathu/replay"
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/schema"
	"github.com/semistrict/klendathu/toolsurface"
	"github.com/semistrict/klendathu/transcript"

	"github.com/semistrict/klendathu/agentadapter"
)

// Options configures a single request (spec.md §6 Caller API `options`).
type Options struct {
	// Cancel, when non-nil, is closed to request cancellation (spec.md §4.6).
	Cancel <-chan struct{}
	// Validate is an optional caller-supplied check run after schema
	// validation succeeds (spec.md §4.1 set_result).
	Validate sandbox.Validator
	// ForceUseCache is an alias for KLENDATHU_CACHE_MODE=force-use (spec.md
	// §6): skip lookup only in the sense that a miss is rejected rather than
	// falling through to the agent.
	ForceUseCache bool
}

// Orchestrator drives requests against a cache Store and an Agent Adapter
// (spec.md §4.6).
type Orchestrator struct {
	Store   *cache.Store
	Adapter agentadapter.Adapter
	Logger  telemetry.Logger
}

// New constructs an Orchestrator. logger may be nil (defaults to a no-op
// logger).
func New(store *cache.Store, adapter agentadapter.Adapter, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Orchestrator{Store: store, Adapter: adapter, Logger: logger}
}

// Run executes one request end to end: cache lookup and replay on a hit,
// live agent execution on a miss or replay mismatch, and a final transcript
// write either way (spec.md §4.6 state machine).
func (o *Orchestrator) Run(ctx context.Context, instruction string, ctxBag kctx.Bag, sch schema.Schema, opts Options) (any, error) {
	requestID := uuid.New().String()
	descriptors := sortedDescriptors(ctxBag)
	descJSON := make([]json.RawMessage, 0, len(descriptors))
	for _, d := range descriptors {
		b, _ := json.Marshal(d) //nolint:errcheck // Descriptor always marshals
		descJSON = append(descJSON, b)
	}
	schemaJSON := sch.ToJSONSchema()
	task := transcript.Task{
		Prompt:             renderPrompt(instruction, schemaJSON, descriptors),
		Schema:             schemaJSON,
		ContextDescriptors: descJSON,
	}
	key := cache.Key(instruction, schemaJSON)

	mode := cache.ModeFromEnv()
	if opts.ForceUseCache {
		mode = cache.ModeForceUse
	}

	if mode != cache.ModeIgnore {
		if cached, hit := o.Store.Lookup(ctx, key); hit {
			ev := sandbox.NewEvaluator(ctxBag, sch, opts.Validate)
			value, ok, report := replay.Replay(ev, cached.Calls)
			if ok {
				o.Logger.Info(ctx, "orchestrator: replay hit", telemetry.Attr("request_id", requestID), telemetry.Attr("key", key), telemetry.Attr("replayed", report.Replayed))
				return value, nil
			}
			o.Logger.Info(ctx, "orchestrator: replay mismatch, falling back to live", telemetry.Attr("request_id", requestID), telemetry.Attr("key", key), telemetry.Attr("reason", report.Reason))
		} else if mode == cache.ModeForceUse {
			return nil, klerrors.New(klerrors.KindCacheRequiredButMissing, fmt.Sprintf("klendathu: force-use cache mode and no cached transcript for key %q", key))
		}
	}

	return o.runLive(ctx, requestID, task, ctxBag, sch, opts, key)
}

func (o *Orchestrator) runLive(ctx context.Context, requestID string, task transcript.Task, ctxBag kctx.Bag, sch schema.Schema, opts Options, key string) (any, error) {
	o.Logger.Info(ctx, "orchestrator: live run starting", telemetry.Attr("request_id", requestID), telemetry.Attr("key", key))
	ev := sandbox.NewEvaluator(ctxBag, sch, opts.Validate)
	ledger := transcript.NewLedger(task)

	surface := toolsurface.New(ev, func(call transcript.Call) {
		ledger.AppendCall(call)
		o.Store.Save(ctx, key, ledger.Snapshot(false))
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	req := agentadapter.Request{
		Prompt: task.Prompt,
		Tools: agentadapter.Tools{
			Eval:      surface.Eval,
			SetResult: surface.SetResult,
			Bail:      surface.Bail,
		},
	}

	msgCh, err := o.Adapter.Run(runCtx, req)
	if err != nil {
		ev.Reject(klerrors.NewWithCause(klerrors.KindAgentExitWithoutCompletion, "agent adapter failed to start: "+err.Error(), err))
	} else {
		msgDone := make(chan struct{})
		go func() {
			defer close(msgDone)
			for msg := range msgCh {
				ledger.AppendMessage(msg)
			}
		}()

		select {
		case <-ev.CompletionDone():
		case <-opts.cancel():
			ev.Reject(klerrors.New(klerrors.KindCancellationError, "klendathu: request canceled"))
		case <-ctx.Done():
			ev.Reject(klerrors.NewWithCause(klerrors.KindCancellationError, "klendathu: context canceled", ctx.Err()))
		case <-msgDone:
			// Surface.StopRequested reports whether a set_result/bail already
			// settled completion; if not, the agent's stream ended on its own
			// without ever calling one of the two tools that can finish a
			// request (spec.md §4.6 Failsafe).
			if !surface.StopRequested() {
				ev.Reject(klerrors.New(klerrors.KindAgentExitWithoutCompletion, "agent exited without completion"))
			}
		}
		cancelRun()
		<-msgDone
	}

	value, cerr := ev.AwaitCompletion()
	final := ledger.Snapshot(cerr == nil)
	o.Store.Save(ctx, key, final)
	if cerr != nil {
		o.Logger.Warn(ctx, "orchestrator: live run failed", telemetry.Attr("request_id", requestID), telemetry.Attr("key", key), telemetry.Attr("error", cerr.Error()))
		return nil, cerr
	}
	o.Logger.Info(ctx, "orchestrator: live run completed", telemetry.Attr("request_id", requestID), telemetry.Attr("key", key))
	return value, nil
}

func (o Options) cancel() <-chan struct{} {
	if o.Cancel != nil {
		return o.Cancel
	}
	never := make(chan struct{})
	return never
}

func sortedDescriptors(b kctx.Bag) []kctx.Descriptor {
	ds := kctx.Describe(b)
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
	return ds
}

// renderPrompt builds a minimal default prompt describing the instruction,
// schema, and context for the agent. The real prompt template is out of
// scope (spec.md §1); this exists only so the Agent Adapter contract
// (spec.md §4.7) always receives non-empty prompt text when a caller has not
// supplied its own rendering upstream.
func renderPrompt(instruction string, schemaJSON json.RawMessage, descriptors []kctx.Descriptor) string {
	s := "Instruction: " + instruction + "\n\nResult schema (JSON-Schema):\n" + string(schemaJSON) + "\n\nAvailable context:\n"
	for _, d := range descriptors {
		s += fmt.Sprintf("- %s: %s", d.Name, d.Type)
		if d.Description != "" {
			s += " (" + d.Description + ")"
		}
		s += "\n"
	}
	return s
}
