package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	kctx "github.com/semistrict/klendathu/context"
	"github.com/semistrict/klendathu/sandbox"
	"github.com/semistrict/klendathu/schema"
	"github.com/semistrict/klendathu/transcript"
)

func TestReplayCleanSequence(t *testing.T) {
	sch := schema.Schema{"total": {Type: schema.TypeInteger, Required: true}}
	calls := []transcript.Call{
		{Tool: transcript.ToolEval, Code: "() => { vars.a = 2; }", Result: transcript.Ok(nil)},
		{Tool: transcript.ToolEval, Code: "() => { vars.b = 3; }", Result: transcript.Ok(nil)},
		{Tool: transcript.ToolSetResult, Code: "() => ({ total: vars.a + vars.b })", Result: transcript.Ok(map[string]any{"total": float64(5)})},
	}

	ev := sandbox.NewEvaluator(kctx.Bag{}, sch, nil)
	value, ok, report := Replay(ev, calls)
	require.True(t, ok)
	require.Equal(t, 2, report.Replayed)
	require.Equal(t, float64(5), value.(map[string]any)["total"])
}

func TestReplayMismatchOnThrow(t *testing.T) {
	calls := []transcript.Call{
		{Tool: transcript.ToolEval, Code: "() => { vars.a = 2; }", Result: transcript.Ok(nil)},
		{Tool: transcript.ToolSetResult, Code: `() => { throw new Error("env changed"); }`, Result: transcript.Ok(map[string]any{"total": float64(5)})},
	}

	ev := sandbox.NewEvaluator(kctx.Bag{}, nil, nil)
	_, ok, report := Replay(ev, calls)
	require.False(t, ok)
	require.True(t, report.Mismatched)
}

func TestReplayIgnoresRecordedErrorCalls(t *testing.T) {
	calls := []transcript.Call{
		{Tool: transcript.ToolEval, Code: `() => { throw new Error("bad"); }`, Result: transcript.Err("bad", "")},
		{Tool: transcript.ToolSetResult, Code: "() => (1)", Result: transcript.Ok(float64(1))},
	}
	ev := sandbox.NewEvaluator(kctx.Bag{}, nil, nil)
	value, ok, report := Replay(ev, calls)
	require.True(t, ok)
	require.Equal(t, 0, report.Replayed)
	require.Equal(t, float64(1), value)
}

func TestReplayWithoutSetResultMismatches(t *testing.T) {
	calls := []transcript.Call{
		{Tool: transcript.ToolEval, Code: "() => 1", Result: transcript.Ok(float64(1))},
	}
	ev := sandbox.NewEvaluator(kctx.Bag{}, nil, nil)
	_, ok, report := Replay(ev, calls)
	require.False(t, ok)
	require.True(t, report.Mismatched)
}
