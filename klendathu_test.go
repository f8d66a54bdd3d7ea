package klendathu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semistrict/klendathu/agentadapter"
	"github.com/semistrict/klendathu/schema"
)

func TestImplementWithScriptedAdapter(t *testing.T) {
	t.Setenv("KLENDATHU_CACHE", t.TempDir())

	adapter := agentadapter.NewScripted(
		agentadapter.Step{Tool: "eval", Code: "() => { vars.price = 9; }"},
		agentadapter.Step{Tool: "set_result", Code: "() => ({ total: vars.price * 2 })"},
	)

	sch := Schema{"total": {Type: schema.TypeInteger, Required: true}}
	value, err := Implement(context.Background(), "double the price", Context{"price": 9}, sch, WithAgentAdapter(adapter))
	require.NoError(t, err)
	require.Equal(t, float64(18), value.(map[string]any)["total"])
}

func TestImplementWithoutAdapterFails(t *testing.T) {
	_, err := Implement(context.Background(), "anything", Context{}, Schema{})
	require.Error(t, err)
}

func TestInvestigateReturnsLastMessageText(t *testing.T) {
	t.Setenv("KLENDATHU_CACHE", t.TempDir())

	adapter := agentadapter.Func(func(ctx context.Context, req agentadapter.Request) (<-chan agentadapter.Message, error) {
		out := make(chan agentadapter.Message, 1)
		go func() {
			defer close(out)
			r := req.Tools.Eval("() => context.err")
			_ = r
			out <- agentadapter.Message(`{"response":"the error was a nil pointer dereference"}`)
		}()
		return out, nil
	})

	res, err := Investigate(context.Background(), Context{"err": "boom"}, WithAgentAdapter(adapter))
	require.NoError(t, err)
	require.Equal(t, "the error was a nil pointer dereference", res.Text)
	require.Len(t, res.Messages, 1)
}
