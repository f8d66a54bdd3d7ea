package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerSnapshotReflectsAppendedCalls(t *testing.T) {
	l := NewLedger(Task{Prompt: "do the thing"})
	l.AppendCall(Call{Tool: ToolEval, Code: "() => 1", Result: Ok(float64(1))})
	l.AppendMessage(json.RawMessage(`{"role":"assistant"}`))

	snap := l.Snapshot(false)
	require.False(t, snap.Success)
	require.Len(t, snap.Calls, 1)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "do the thing", snap.Task.Prompt)

	final := l.Snapshot(true)
	require.True(t, final.Success)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	orig := Transcript{
		Success: true,
		Task:    Task{Prompt: "x"},
		Calls:   []Call{{Tool: ToolSetResult, Code: "() => 1", Result: Ok(float64(1))}},
	}
	data, err := orig.Marshal()
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	require.True(t, back.Success)
	require.Len(t, back.Calls, 1)
}

func TestUnmarshalPreservesUnknownFields(t *testing.T) {
	data := []byte(`{"success":true,"task":{"prompt":"x"},"calls":[],"future_field":"keep-me"}`)
	t1, err := Unmarshal(data)
	require.NoError(t, err)

	out, err := t1.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(out), `"future_field":"keep-me"`)
}
