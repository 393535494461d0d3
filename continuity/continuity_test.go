package continuity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	e, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, e.Append("news", 1, 1, "first"))
	require.NoError(t, e.Append("news", 1, 2, "second"))
	require.NoError(t, e.Append("news", 1, 3, "third"))

	frames := e.Replay("news", 1)
	require.Len(t, frames, 2)
	assert.Equal(t, "EVENT", frames[0].Verb)
	seq, _ := frames[0].Header("Seq")
	assert.Equal(t, "2", seq)
}

func TestReplaySinceZeroReturnsEverything(t *testing.T) {
	e, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, e.Append("news", 1, 1, "a"))
	require.NoError(t, e.Append("news", 1, 2, "b"))
	assert.Len(t, e.Replay("news", 0), 2)
}

func TestReplayUnknownTopicIsEmpty(t *testing.T) {
	e, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, e.Replay("nonexistent", 0))
}

func TestLoadTopicRestoresFromDisk(t *testing.T) {
	dir := t.TempDir()
	e1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, e1.Append("news", 2, 1, "hello"))

	e2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, e2.LoadTopic("news"))
	frames := e2.Replay("news", 0)
	require.Len(t, frames, 1)
	lane, _ := frames[0].Header("Lane")
	assert.Equal(t, "2", lane)
}

func TestLoadTopicMissingFileIsNoop(t *testing.T) {
	e, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, e.LoadTopic("never-appended"))
	assert.Empty(t, e.Replay("never-appended", 0))
}

func TestPruneTrimsOldestInMemory(t *testing.T) {
	e, err := New(t.TempDir())
	require.NoError(t, err)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, e.Append("news", 1, i, "x"))
	}
	e.Prune("news", 2)
	frames := e.Replay("news", 0)
	require.Len(t, frames, 2)
	seq, _ := frames[0].Header("Seq")
	assert.Equal(t, "4", seq)
}

func TestCompactRewritesLogToMatchMemory(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, e.Append("news", 1, i, "x"))
	}
	e.Prune("news", 2)
	require.NoError(t, e.Compact("news"))

	e2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, e2.LoadTopic("news"))
	assert.Len(t, e2.Replay("news", 0), 2)
}
