package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/semistrict/klendathu/transcript"
)

func TestKeyStableForIdenticalInput(t *testing.T) {
	a := Key("build a widget", json.RawMessage(`{"type":"object"}`))
	b := Key("build a widget", json.RawMessage(`{"type":"object"}`))
	require.Equal(t, a, b)
}

func TestKeyHashesRawSchemaBytes(t *testing.T) {
	a := Key("build a widget", json.RawMessage(`{"type":"object"}`))
	c := Key("build a widget", json.RawMessage(`{"type": "object"}`))
	require.NotEqual(t, a, c, "differing schema bytes do change the key; callers must pass canonical JSON")
}

func TestKeyDiffersByInstruction(t *testing.T) {
	sch := json.RawMessage(`{}`)
	require.NotEqual(t, Key("instruction one", sch), Key("instruction two", sch))
}

func TestStoreLookupMissAndSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	ctx := context.Background()

	_, hit := s.Lookup(ctx, "nonexistent")
	require.False(t, hit)

	key := Key("do a thing", json.RawMessage(`{}`))
	want := transcript.Transcript{Success: true, Task: transcript.Task{Prompt: "do a thing"}}
	s.Save(ctx, key, want)

	got, hit := s.Lookup(ctx, key)
	require.True(t, hit)
	require.Equal(t, "do a thing", got.Task.Prompt)
}

func TestStoreLookupIgnoresUnsuccessfulTranscript(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	ctx := context.Background()
	key := "some-key"
	s.Save(ctx, key, transcript.Transcript{Success: false})

	_, hit := s.Lookup(ctx, key)
	require.False(t, hit)
}

func TestModeFromEnv(t *testing.T) {
	t.Setenv(EnvCacheMode, "")
	require.Equal(t, ModeNormal, ModeFromEnv())

	t.Setenv(EnvCacheMode, string(ModeIgnore))
	require.Equal(t, ModeIgnore, ModeFromEnv())

	t.Setenv(EnvCacheMode, string(ModeForceUse))
	require.Equal(t, ModeForceUse, ModeFromEnv())
}
