// Package replay implements the Replay Engine of spec.md §4.5: given a valid
// cached transcript and a live (context, vars) pair, it re-executes recorded
// eval calls in order and then the final set_result, detecting environment
// mismatch so the orchestrator can fall back to live execution.
//
// This implements the "Sequential" idiom from spec.md §4.5 (each eval and
// the final set_result sent to the live evaluator one by one, mismatch
// checked per step) rather than the "Combined" idiom, because per-step
// mismatch detection is simpler to test and to reason about, and the spec
// states either is conformant.
package replay

import (
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/transcript"
)

// Report describes how a replay attempt went, for diagnostics (SPEC_FULL.md
// "Idempotency-flavored replay diagnostics").
type Report struct {
	// Replayed is the number of eval calls successfully re-executed.
	Replayed int
	// Mismatched is true when replay was aborted due to an environment
	// mismatch (spec.md §4.5).
	Mismatched bool
	// MismatchCall is the 0-based index into the filtered Ok calls at which
	// the mismatch occurred, valid only when Mismatched is true.
	MismatchCall int
	// Reason is a short human-readable description of the mismatch.
	Reason string
}

// Replay re-executes calls against ev. It returns (value, true, report) on a
// clean replay that completes ev's completion promise, or (nil, false,
// report) when the transcript cannot be replayed cleanly — in which case the
// orchestrator must build a fresh Evaluator and fall through to live
// execution (spec.md §4.5: "the partially-mutated vars from replay are
// discarded").
func Replay(ev *sandbox.Evaluator, calls []transcript.Call) (value any, ok bool, report Report) {
	okCalls := make([]transcript.Call, 0, len(calls))
	for _, c := range calls {
		if !c.Result.IsError {
			okCalls = append(okCalls, c)
		}
	}

	lastSetResult := -1
	for i, c := range okCalls {
		if c.Tool == transcript.ToolSetResult {
			lastSetResult = i
		}
	}
	if lastSetResult == -1 {
		report.Mismatched = true
		report.Reason = "no recorded successful set_result to replay"
		return nil, false, report
	}

	for i := 0; i < lastSetResult; i++ {
		c := okCalls[i]
		if c.Tool != transcript.ToolEval {
			continue
		}
		outcome, err := ev.Eval(c.Code)
		if err != nil {
			report.Mismatched = true
			report.MismatchCall = i
			report.Reason = "eval raised during replay: " + err.Error()
			return nil, false, report
		}
		if isSerializedError(outcome.Result) {
			report.Mismatched = true
			report.MismatchCall = i
			report.Reason = "eval returned an error value during replay"
			return nil, false, report
		}
		report.Replayed++
	}

	final := okCalls[lastSetResult]
	result, err := ev.SetResult(final.Code)
	if err != nil {
		report.Mismatched = true
		report.MismatchCall = lastSetResult
		report.Reason = "set_result failed during replay: " + err.Error()
		return nil, false, report
	}
	return result, true, report
}

func isSerializedError(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	flagged, ok := m["__error"].(bool)
	return ok && flagged
}
