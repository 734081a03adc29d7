package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/models"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestBindAgentSupersedes(t *testing.T) {
	r := New(10, 1024)
	first := &fakeConn{}
	second := &fakeConn{}

	assert.Nil(t, r.BindAgent("web-1", first))
	assert.Equal(t, 1, r.AgentCount())

	// A reconnect for the same host id hands back the stale connection.
	prev := r.BindAgent("web-1", second)
	require.NotNil(t, prev)
	assert.Same(t, first, prev.(*fakeConn))
	assert.Equal(t, 1, r.AgentCount())
}

func TestReleaseAgentIgnoresSupersededConn(t *testing.T) {
	r := New(10, 1024)
	first := &fakeConn{}
	second := &fakeConn{}

	r.BindAgent("web-1", first)
	r.BindAgent("web-1", second)

	// The superseded connection closing late must not evict the new one.
	assert.False(t, r.ReleaseAgent("web-1", first))
	assert.Equal(t, 1, r.AgentCount())

	assert.True(t, r.ReleaseAgent("web-1", second))
	assert.Equal(t, 0, r.AgentCount())
}

func TestAgentIDsSorted(t *testing.T) {
	r := New(10, 1024)
	r.BindAgent("web-2", &fakeConn{})
	r.BindAgent("db-1", &fakeConn{})
	r.BindAgent("web-1", &fakeConn{})

	assert.Equal(t, []string{"db-1", "web-1", "web-2"}, r.AgentIDs())
}

func TestDetailsCap(t *testing.T) {
	r := New(10, 16)

	assert.True(t, r.SetDetails("web-1", json.RawMessage(`{"ok":true}`)))
	raw, ok := r.Details("web-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	// Oversize snapshots are rejected whole; the previous one survives.
	big := json.RawMessage(`{"p":"` + string(make([]byte, 32)) + `"}`)
	assert.False(t, r.SetDetails("web-1", big))
	raw, ok = r.Details("web-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	_, ok = r.Details("unknown")
	assert.False(t, ok)
}

func TestLogRingEviction(t *testing.T) {
	r := New(3, 1024)

	for i := 0; i < 5; i++ {
		r.AppendLog("web-1", models.LogEntry{TS: int64(i), Message: fmt.Sprintf("line %d", i)})
	}

	tail := r.LogTail("web-1", 10)
	require.Len(t, tail, 3)
	assert.Equal(t, "line 2", tail[0].Message)
	assert.Equal(t, "line 4", tail[2].Message)

	tail = r.LogTail("web-1", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "line 3", tail[0].Message)
}

func TestBulkAppendEvicts(t *testing.T) {
	r := New(3, 1024)
	r.AppendLog("web-1", models.LogEntry{TS: 0, Message: "old"})

	r.AppendLogs("web-1", []models.LogEntry{
		{TS: 1, Message: "a"}, {TS: 2, Message: "b"}, {TS: 3, Message: "c"},
	})

	tail := r.LogTail("web-1", 10)
	require.Len(t, tail, 3)
	assert.Equal(t, "a", tail[0].Message)
	assert.Equal(t, "c", tail[2].Message)
}

func TestLogTailUnknownHost(t *testing.T) {
	r := New(3, 1024)
	assert.Empty(t, r.LogTail("nope", 10))
}
