// Package klendathu implements the public Caller API of spec.md §6:
// Implement drives an external agent (or replays a cached transcript) to
// produce a schema-validated result from a natural-language instruction and
// a live context; Investigate drives the same machinery to produce free-form
// diagnostic text for a caught exception.
package klendathu

import (
	gocontext "context"
	"encoding/json"
	"fmt"

	kctx "github.com/semistrict/klendathu/context"

	"github.com/semistrict/klendathu/agentadapter"
	"github.com/semistrict/klendathu/cache"
	"github.com/semistrict/klendathu/internal/klerrors"
	"github.com/semistrict/klendathu/internal/telemetry"
	"github.com/semistrict/klendathu/orchestrator"
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/schema"
	"github.com/semistrict/klendathu/toolsurface"
	"github.com/semistrict/klendathu/transcript"
)

// Context is re-exported for callers that only import the root package.
type Context = kctx.Bag

// Schema is re-exported for callers that only import the root package.
type Schema = schema.Schema

// Field is re-exported for callers that only import the root package.
type Field = schema.Field

// config accumulates functional Options (SPEC_FULL.md AMBIENT STACK:
// functional-options pattern adapted from toolregistry/executor.Option).
type config struct {
	logger        telemetry.Logger
	cacheRoot     string
	validate      sandbox.Validator
	cancel        <-chan struct{}
	adapter       agentadapter.Adapter
	forceUseCache bool
}

// Option configures a single Implement/Investigate call.
type Option func(*config)

// WithLogger overrides the logger used for this call. Defaults to
// internal/telemetry.Default(), which is a no-op unless KLENDATHU_TRACE is
// set (spec.md §6).
func WithLogger(logger telemetry.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithCacheRoot overrides the cache directory for this call, taking
// precedence over KLENDATHU_CACHE and the default project-relative location
// (spec.md §3, §4.4).
func WithCacheRoot(root string) Option {
	return func(c *config) { c.cacheRoot = root }
}

// WithValidator supplies a caller-side check run after schema validation
// succeeds; a non-nil error fails the set_result call (spec.md §4.1, §6).
func WithValidator(validate func(value any) error) Option {
	return func(c *config) { c.validate = validate }
}

// WithCancel supplies a cancellation handle; closing it rejects the request
// with a CancellationError (spec.md §4.6, §6).
func WithCancel(cancel <-chan struct{}) Option {
	return func(c *config) { c.cancel = cancel }
}

// WithAgentAdapter supplies the Agent Adapter that drives the external agent
// (spec.md §4.7). Required: Implement/Investigate return an error if none is
// configured, since the agent itself is out of scope for this module
// (spec.md §1) and there is no sensible built-in default.
func WithAgentAdapter(adapter agentadapter.Adapter) Option {
	return func(c *config) { c.adapter = adapter }
}

// WithForceUseCache is the programmatic form of KLENDATHU_CACHE_MODE=force-use
// (spec.md §6 `forceUseCache`).
func WithForceUseCache() Option {
	return func(c *config) { c.forceUseCache = true }
}

func newConfig(opts []Option) config {
	c := config{logger: telemetry.Default()}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c config) store() *cache.Store {
	root := c.cacheRoot
	if root == "" {
		root = cache.RootDir()
	}
	return cache.New(root, c.logger)
}

// Implement drives an external agent to produce a value matching sch from
// instruction and ctxBag, or replays a cached transcript when one exists for
// the same (instruction, schema) pair (spec.md §6).
func Implement(ctx gocontext.Context, instruction string, ctxBag Context, sch Schema, opts ...Option) (any, error) {
	c := newConfig(opts)
	if c.adapter == nil {
		return nil, klerrors.New(klerrors.KindAgentExitWithoutCompletion, "klendathu: no agent adapter configured (WithAgentAdapter)")
	}
	orch := orchestrator.New(c.store(), c.adapter, c.logger)
	return orch.Run(ctx, instruction, ctxBag, sch, orchestrator.Options{
		Cancel:        c.cancel,
		Validate:      c.validate,
		ForceUseCache: c.forceUseCache,
	})
}

// InvestigationResult is the outcome of Investigate: the agent's final
// free-form text, plus the raw message stream for callers that want to
// surface progress (spec.md §6 `status_stream`, `summary`).
type InvestigationResult struct {
	// Text is the agent's final free-form diagnosis.
	Text string
	// Messages is the full, ordered, opaque agent output stream.
	Messages []json.RawMessage
}

// Investigate drives the same eval machinery as Implement to diagnose a
// caught exception, producing free-form text rather than a validated value
// (spec.md §1, §6). There is no schema and no set_result/bail: the agent
// terminates its own message stream when done, and the last message is taken
// as the summary (spec.md §6 investigate).
func Investigate(ctx gocontext.Context, ctxBag Context, opts ...Option) (*InvestigationResult, error) {
	c := newConfig(opts)
	if c.adapter == nil {
		return nil, klerrors.New(klerrors.KindAgentExitWithoutCompletion, "klendathu: no agent adapter configured (WithAgentAdapter)")
	}

	ev := sandbox.NewEvaluator(ctxBag, nil, nil)
	prompt := investigatePrompt(ctxBag)
	ledger := transcript.NewLedger(transcript.Task{Prompt: prompt})

	surface := toolsurface.New(ev, func(call transcript.Call) {
		ledger.AppendCall(call)
	})

	runCtx, cancel := gocontext.WithCancel(ctx)
	defer cancel()

	msgCh, err := c.adapter.Run(runCtx, agentadapter.Request{
		Prompt: prompt,
		Tools:  agentadapter.Tools{Eval: surface.Eval},
	})
	if err != nil {
		return nil, klerrors.NewWithCause(klerrors.KindAgentExitWithoutCompletion, "agent adapter failed to start: "+err.Error(), err)
	}

	var messages []json.RawMessage
	var last json.RawMessage
	for msg := range msgCh {
		ledger.AppendMessage(msg)
		messages = append(messages, append(json.RawMessage(nil), msg...))
		last = msg
	}

	store := c.store()
	store.Save(ctx, investigateKey(prompt), ledger.Snapshot(true))

	return &InvestigationResult{Text: extractText(last), Messages: messages}, nil
}

func investigatePrompt(ctxBag Context) string {
	s := "Investigate the error captured in context and explain the likely cause.\n\nAvailable context:\n"
	for _, d := range kctx.Describe(ctxBag) {
		s += fmt.Sprintf("- %s: %s\n", d.Name, d.Type)
	}
	return s
}

// investigateKey derives a cache key for investigate transcripts from the
// rendered prompt alone, since investigate has no schema (spec.md §6).
// Investigate transcripts are persisted for diagnostic replay tooling
// (cmd/klendathu-replay) but, unlike Implement, are never looked up
// automatically: there is no set_result to validate a replayed value against.
func investigateKey(prompt string) string {
	return cache.Key(prompt, json.RawMessage(`{}`))
}

func extractText(msg json.RawMessage) string {
	if len(msg) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(msg, &obj); err == nil {
		if t, ok := obj["response"].(string); ok {
			return t
		}
		if t, ok := obj["text"].(string); ok {
			return t
		}
	}
	return string(msg)
}
