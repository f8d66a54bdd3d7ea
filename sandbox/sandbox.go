// Package sandbox implements the Evaluator of spec.md §4.1: a per-request
// stateful object that executes agent-supplied code against a frozen
// context and a persistent scratch vars namespace, using an embedded
// ECMAScript interpreter.
//
// The embedded interpreter is github.com/dop251/goja, grounded on two
// independent examples in the retrieval pack (docker/cagent's
// pkg/tools/codemode and thor-fernholm/toolman's javascript tool) that both
// embed goja to run agent-issued code against an injected scope of callable
// tools — exactly the "evaluate a function-expression string ... against an
// injected scope" contract spec.md §9 asks for.
package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"

	kctx "github.com/semistrict/klendathu/context"
	"github.com/semistrict/klendathu/internal/klerrors"
	"github.com/semistrict/klendathu/schema"
)

// maxSerializeDepth bounds recursive serialization (spec.md §9 "Cyclic
// graphs": the repo does not detect cycles; implementers SHOULD bound
// recursion depth and substitute a sentinel at the limit).
const maxSerializeDepth = 64

// ConsoleLevel is one of the console shim's methods.
type ConsoleLevel string

const (
	ConsoleLog   ConsoleLevel = "log"
	ConsoleError ConsoleLevel = "error"
	ConsoleWarn  ConsoleLevel = "warn"
	ConsoleInfo  ConsoleLevel = "info"
	ConsoleDebug ConsoleLevel = "debug"
	ConsoleTrace ConsoleLevel = "trace"
)

// ConsoleEntry is one captured console invocation: {level, args} (spec.md
// §4.1).
type ConsoleEntry struct {
	Level ConsoleLevel
	Args  []any
}

// EvalOutcome is the result of a successful Evaluator.Eval call: the
// serialized return value plus any console activity, in call order.
type EvalOutcome struct {
	Result  any
	Console []ConsoleEntry
}

// Validator is an optional caller-supplied check invoked after schema
// validation succeeds (spec.md §4.1 set_result). A throw/error return
// propagates as a set_result failure.
type Validator func(value any) error

// Evaluator is bound to (context, vars, schema, optional validator) for the
// lifetime of one request (spec.md §4.1). It is not safe for concurrent
// Eval/SetResult calls and takes no lock; it relies on the agent adapter
// issuing tool calls one at a time (spec.md §5).
type Evaluator struct {
	vm     *goja.Runtime
	schema schema.Schema
	valid  Validator

	// lastConsole accumulates console entries for the call currently in
	// flight. Eval/SetResult calls arrive one at a time (spec.md §5), so a
	// reset at the start of each call is sufficient.
	lastConsole []ConsoleEntry

	completion struct {
		once  sync.Once
		done  chan struct{}
		value any
		err   error
	}
}

// NewEvaluator constructs an Evaluator over ctx and sch. valid may be nil.
// ctx is bound as the frozen "context" identifier; a fresh, empty "vars"
// object is bound and persists for the Evaluator's lifetime.
func NewEvaluator(ctx kctx.Bag, sch schema.Schema, valid Validator) *Evaluator {
	vm := goja.New()
	e := &Evaluator{vm: vm, schema: sch, valid: valid}
	e.completion.done = make(chan struct{})

	if err := vm.Set("context", ctx); err != nil {
		// ctx is a plain map[string]any; Set should never fail for it.
		panic(fmt.Sprintf("sandbox: bind context: %v", err))
	}
	// Best-effort freeze: agent code should treat context as read-only
	// (spec.md §3 "Context ... not copied"). Freezing a host-bound object is
	// not guaranteed to stick across goja versions, so failures are ignored.
	_, _ = vm.RunString(`try { Object.freeze(context); } catch (e) {}`)

	if err := vm.Set("vars", map[string]any{}); err != nil {
		panic(fmt.Sprintf("sandbox: bind vars: %v", err))
	}

	vm.Set("console", e.buildConsole()) //nolint:errcheck
	return e
}

func (e *Evaluator) buildConsole() map[string]func(goja.FunctionCall) goja.Value {
	entries := func(level ConsoleLevel) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, e.serialize(a, 0))
			}
			e.lastConsole = append(e.lastConsole, ConsoleEntry{Level: level, Args: args})
			return goja.Undefined()
		}
	}
	return map[string]func(goja.FunctionCall) goja.Value{
		string(ConsoleLog):   entries(ConsoleLog),
		string(ConsoleError): entries(ConsoleError),
		string(ConsoleWarn):  entries(ConsoleWarn),
		string(ConsoleInfo):  entries(ConsoleInfo),
		string(ConsoleDebug): entries(ConsoleDebug),
		string(ConsoleTrace): entries(ConsoleTrace),
	}
}

// runExpr evaluates `(<code>)()` and returns the raw goja.Value plus any
// thrown error. A returned promise is unwrapped only if it has settled by the
// time the script and its job queue finish running; there is no event loop,
// so a promise still pending at that point is reported as an error rather
// than waited on.
func (e *Evaluator) runExpr(code string) (goja.Value, error) {
	wrapped := "(" + code + ")()"
	v, err := e.vm.RunString(wrapped)
	if err != nil {
		return nil, translateThrow(e.vm, err)
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, translateRejection(e.vm, p.Result())
		default:
			return nil, klerrors.New(klerrors.KindEvalRuntimeError, "eval: promise did not settle synchronously")
		}
	}
	return v, nil
}

func translateThrow(vm *goja.Runtime, err error) error {
	exc, ok := err.(*goja.Exception)
	if !ok {
		return klerrors.NewWithCause(klerrors.KindEvalRuntimeError, err.Error(), err)
	}
	return errorFromValue(vm, exc.Value())
}

func translateRejection(vm *goja.Runtime, v goja.Value) error {
	return errorFromValue(vm, v)
}

func errorFromValue(vm *goja.Runtime, v goja.Value) error {
	if v == nil {
		return klerrors.New(klerrors.KindEvalRuntimeError, "eval: threw an undefined value")
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		msg := exportString(obj.Get("message"))
		stack := exportString(obj.Get("stack"))
		e := klerrors.New(klerrors.KindEvalRuntimeError, msg)
		e.Cause = &klerrors.Error{Kind: klerrors.KindEvalRuntimeError, Message: stack}
		return e
	}
	return klerrors.New(klerrors.KindEvalRuntimeError, v.String())
}

func exportString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// Eval implements the `eval` operation of spec.md §4.1: runs code, unwraps a
// returned promise that has already settled (see runExpr), and serializes the
// result and any console activity. Thrown errors are NOT
// caught here, matching spec.md §4.1 ("Exceptions: thrown errors are NOT
// caught here; they are caught by the Tool Surface"); callers in this package
// tree are the Tool Surface, so they receive the error directly.
func (e *Evaluator) Eval(code string) (EvalOutcome, error) {
	e.lastConsole = nil
	v, err := e.runExpr(code)
	if err != nil {
		return EvalOutcome{Console: e.lastConsole}, err
	}
	return EvalOutcome{Result: e.serialize(v, 0), Console: e.lastConsole}, nil
}

// SetResult implements the `set_result` operation of spec.md §4.1: runs
// code, serializes the result, validates it against the schema and the
// optional caller validator, and on success resolves the completion promise.
// A failing validation does NOT resolve the promise, and does not itself
// count as a sandbox throw: it is reported as a *klerrors.Error of kind
// KindValidationError.
func (e *Evaluator) SetResult(code string) (any, error) {
	e.lastConsole = nil
	v, err := e.runExpr(code)
	if err != nil {
		return nil, err
	}
	serialized := e.serialize(v, 0)

	if e.schema != nil {
		accepted, issues := e.schema.Validate(serialized)
		if issues != nil {
			return nil, klerrors.New(klerrors.KindValidationError, issues.Error())
		}
		serialized = accepted
	}
	if e.valid != nil {
		if verr := e.valid(serialized); verr != nil {
			return nil, klerrors.NewWithCause(klerrors.KindValidationError, verr.Error(), verr)
		}
	}
	e.resolve(serialized, nil)
	return serialized, nil
}

// SetBailError implements `bail` (spec.md §4.1): rejects the completion
// promise with a failure whose message is
// "Agent could not complete the task: <message>". Subsequent SetResult calls
// still execute but their resolution of the already-settled promise is a
// no-op (enforced by the sync.Once in resolve).
func (e *Evaluator) SetBailError(message string) {
	e.resolve(nil, klerrors.New(klerrors.KindBailError, "Agent could not complete the task: "+message))
}

func (e *Evaluator) resolve(value any, err error) {
	e.completion.once.Do(func() {
		e.completion.value = value
		e.completion.err = err
		close(e.completion.done)
	})
}

// Reject settles the completion promise with err if it has not already
// settled (spec.md §4.6 Failsafe/Cancellation: the orchestrator rejects on
// cancellation or when the agent exits without completing). A no-op if the
// promise already settled.
func (e *Evaluator) Reject(err error) {
	e.resolve(nil, err)
}

// AwaitCompletion blocks until the completion promise settles and returns its
// value or error (spec.md §4.1).
func (e *Evaluator) AwaitCompletion() (any, error) {
	<-e.completion.done
	return e.completion.value, e.completion.err
}

// CompletionDone returns a channel closed once the completion promise
// settles, for use in select statements alongside cancellation (spec.md
// §4.6 Cancellation).
func (e *Evaluator) CompletionDone() <-chan struct{} {
	return e.completion.done
}

// serialize implements the Serialization rules of spec.md §4.1: error-shaped
// values become {__error, name, message, stack}; arrays recurse
// element-wise; non-null objects recurse own-enumerable keys (prototype
// chain methods ignored); primitives pass through, with numbers as float64;
// recursion is bounded with
// a sentinel substituted at the limit.
func (e *Evaluator) serialize(v goja.Value, depth int) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if depth > maxSerializeDepth {
		return map[string]any{"__depth_exceeded": true}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		exported := v.Export()
		// goja exports integer-valued numbers as int64; JSON-shaped output
		// carries every number as float64.
		if n, isInt := exported.(int64); isInt {
			return float64(n)
		}
		return exported
	}
	switch obj.ClassName() {
	case "Error":
		return map[string]any{
			"__error": true,
			"name":    exportString(obj.Get("name")),
			"message": exportString(obj.Get("message")),
			"stack":   exportString(obj.Get("stack")),
		}
	case "Array":
		length := int(obj.Get("length").ToInteger())
		arr := make([]any, 0, length)
		for i := 0; i < length; i++ {
			arr = append(arr, e.serialize(obj.Get(strconv.Itoa(i)), depth+1))
		}
		return arr
	case "Function", "GoFunc", "GoReflectFunc":
		return "[function]"
	default:
		keys := obj.Keys()
		sort.Strings(keys)
		m := make(map[string]any, len(keys))
		for _, k := range keys {
			if strings.HasPrefix(k, "__proto__") {
				continue
			}
			m[k] = e.serialize(obj.Get(k), depth+1)
		}
		return m
	}
}
