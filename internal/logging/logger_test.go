package logging

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestLogger(t *testing.T) *CompletionLogger {
	t.Helper()
	cl, err := NewCompletionLogger("sqlite", filepath.Join(t.TempDir(), "completions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestLogAndListCompletions(t *testing.T) {
	cl := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, cl.LogCompletion(ctx, "p1", "s1", PassFirst, "prompt one", "reply one",
		CompletionMetadata{Model: "m", MaxTokens: 1000, ResponseTime: 20 * time.Millisecond, ToolCalls: 1}))
	require.NoError(t, cl.LogCompletion(ctx, "p1", "s1", PassSecond, "prompt two", "reply two",
		CompletionMetadata{Model: "m", MaxTokens: 1000}))

	logs, err := cl.GetRecentCompletions(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, PassSecond, logs[0].Pass)
	assert.Equal(t, "reply two", logs[0].Response)
	assert.Equal(t, PassFirst, logs[1].Pass)
	assert.Equal(t, "p1", logs[1].PlayerID)
	assert.Equal(t, "s1", logs[1].SessionID)
	assert.Nil(t, logs[1].Rating)

	var meta CompletionMetadata
	require.NoError(t, json.Unmarshal([]byte(logs[1].Metadata), &meta))
	assert.Equal(t, 1, meta.ToolCalls)
	assert.Equal(t, "m", meta.Model)

	limited, err := cl.GetRecentCompletions(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRateCompletion(t *testing.T) {
	cl := newTestLogger(t)
	require.NoError(t, cl.LogCompletion(context.Background(), "p1", "s1", PassFirst, "p", "r", CompletionMetadata{}))

	logs, err := cl.GetRecentCompletions(1)
	require.NoError(t, err)
	id := logs[0].ID

	require.NoError(t, cl.RateCompletion(id, 4, "good pacing"))
	logs, err = cl.GetRecentCompletions(1)
	require.NoError(t, err)
	require.NotNil(t, logs[0].Rating)
	assert.Equal(t, 4, *logs[0].Rating)
	require.NotNil(t, logs[0].Notes)
	assert.Equal(t, "good pacing", *logs[0].Notes)

	assert.Error(t, cl.RateCompletion(id, 9, ""))
	assert.Error(t, cl.RateCompletion(id+100, 3, ""))
}
