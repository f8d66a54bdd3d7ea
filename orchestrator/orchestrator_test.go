package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semistrict/klendathu/agentadapter"
	"github.com/semistrict/klendathu/cache"
	kctx "github.com/semistrict/klendathu/context"
	"github.com/semistrict/klendathu/internal/klerrors"
	"github.com/semistrict/klendathu/schema"
	"github.com/semistrict/klendathu/transcript"
)

func scriptedAdapter(steps ...agentadapter.Step) agentadapter.Adapter {
	return agentadapter.NewScripted(steps...)
}

func numberSchema() schema.Schema {
	return schema.Schema{"total": {Type: schema.TypeInteger, Required: true}}
}

func TestRunLiveMissThenCacheHitReplays(t *testing.T) {
	t.Setenv(cache.EnvCacheMode, "")
	root := t.TempDir()
	store := cache.New(root, nil)

	adapter := scriptedAdapter(
		agentadapter.Step{Tool: "eval", Code: "() => { vars.x = 20; }"},
		agentadapter.Step{Tool: "set_result", Code: "() => ({ total: vars.x + 1 })"},
	)
	orch := New(store, adapter, nil)
	sch := numberSchema()

	value, err := orch.Run(context.Background(), "add one", kctx.Bag{}, sch, Options{})
	require.NoError(t, err)
	require.Equal(t, float64(21), value.(map[string]any)["total"])

	// Second call against an adapter that would fail must still succeed via
	// replay, proving the first call's transcript was cached and reused.
	failing := agentadapter.Func(func(context.Context, agentadapter.Request) (<-chan agentadapter.Message, error) {
		t.Fatal("adapter should not be invoked on a cache hit")
		return nil, nil
	})
	orch2 := New(store, failing, nil)
	value2, err := orch2.Run(context.Background(), "add one", kctx.Bag{}, sch, Options{})
	require.NoError(t, err)
	require.Equal(t, float64(21), value2.(map[string]any)["total"])
}

func TestRunFallsBackLiveOnReplayMismatch(t *testing.T) {
	root := t.TempDir()
	store := cache.New(root, nil)
	sch := numberSchema()
	instruction := "pick a number"

	// Hand-craft a cached transcript whose recorded eval is guaranteed to
	// throw on replay, simulating an environment that changed since it was
	// recorded (spec.md §4.5).
	key := cache.Key(instruction, sch.ToJSONSchema())
	store.Save(context.Background(), key, transcript.Transcript{
		Success: true,
		Task:    transcript.Task{Prompt: "stale"},
		Calls: []transcript.Call{
			{Tool: transcript.ToolEval, Code: `() => { throw new Error("stale environment"); }`, Result: transcript.Ok(nil)},
			{Tool: transcript.ToolSetResult, Code: "() => ({ total: 1 })", Result: transcript.Ok(map[string]any{"total": float64(1)})},
		},
	})

	live := scriptedAdapter(
		agentadapter.Step{Tool: "eval", Code: "() => { vars.x = 9; }"},
		agentadapter.Step{Tool: "set_result", Code: "() => ({ total: vars.x })"},
	)
	orch := New(store, live, nil)
	value, err := orch.Run(context.Background(), instruction, kctx.Bag{}, sch, Options{})
	require.NoError(t, err)
	require.Equal(t, float64(9), value.(map[string]any)["total"], "mismatch must fall through to the live adapter's result, not the stale cached one")
}

func TestRunForceUseCacheMissIsRejected(t *testing.T) {
	root := t.TempDir()
	store := cache.New(root, nil)
	adapter := scriptedAdapter()
	orch := New(store, adapter, nil)

	_, err := orch.Run(context.Background(), "never cached", kctx.Bag{}, numberSchema(), Options{ForceUseCache: true})
	require.Error(t, err)
	var kerr *klerrors.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, klerrors.KindCacheRequiredButMissing, kerr.Kind)
}

func TestRunBailSurfacesAsError(t *testing.T) {
	root := t.TempDir()
	store := cache.New(root, nil)
	adapter := scriptedAdapter(agentadapter.Step{Tool: "bail", Code: "missing required input"})
	orch := New(store, adapter, nil)

	_, err := orch.Run(context.Background(), "do something impossible", kctx.Bag{}, numberSchema(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing required input")
}

func TestRunAgentExitWithoutCompletion(t *testing.T) {
	root := t.TempDir()
	store := cache.New(root, nil)
	adapter := scriptedAdapter(agentadapter.Step{Tool: "eval", Code: "() => 1"})
	orch := New(store, adapter, nil)

	_, err := orch.Run(context.Background(), "trail off", kctx.Bag{}, numberSchema(), Options{})
	require.Error(t, err)
	var kerr *klerrors.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, klerrors.KindAgentExitWithoutCompletion, kerr.Kind)
}

func TestRunCancellation(t *testing.T) {
	root := t.TempDir()
	store := cache.New(root, nil)

	blockForever := agentadapter.Func(func(ctx context.Context, req agentadapter.Request) (<-chan agentadapter.Message, error) {
		ch := make(chan agentadapter.Message)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	})
	orch := New(store, blockForever, nil)

	cancel := make(chan struct{})
	close(cancel)
	_, err := orch.Run(context.Background(), "never finishes", kctx.Bag{}, numberSchema(), Options{Cancel: cancel})
	require.Error(t, err)
	var kerr *klerrors.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, klerrors.KindCancellationError, kerr.Kind)
}
