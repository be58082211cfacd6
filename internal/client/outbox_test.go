package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(token, content string) PendingSend {
	return PendingSend{ClientToken: token, ConversationID: 5, Type: "text", Content: content, QueuedAt: time.Now().UTC()}
}

func contents(items []PendingSend) []string {
	out := make([]string, 0, len(items))
	for _, p := range items {
		out = append(out, p.Content)
	}
	return out
}

func exerciseOutbox(t *testing.T, o Outbox) {
	t.Helper()
	require.NoError(t, o.Append(pending("a", "one")))
	require.NoError(t, o.Append(pending("b", "two")))
	require.NoError(t, o.Append(pending("a", "one again")))
	require.NoError(t, o.Append(pending("c", "three")))

	items, err := o.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(items))

	require.NoError(t, o.Remove("b"))
	require.NoError(t, o.Remove("missing"))
	items, err = o.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, contents(items))
}

func TestMemoryOutbox(t *testing.T) {
	exerciseOutbox(t, NewMemoryOutbox())
}

func TestBoltOutbox(t *testing.T) {
	exerciseOutbox(t, openTestBolt(t, filepath.Join(t.TempDir(), "outbox.db")))
}

func TestBoltOutbox_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")

	o, err := OpenBoltOutbox(path)
	require.NoError(t, err)
	require.NoError(t, o.Append(pending("a", "queued before restart")))
	require.NoError(t, o.Append(pending("b", "second")))
	require.NoError(t, o.Close())

	reopened := openTestBolt(t, path)
	items, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ClientToken)
	assert.Equal(t, uint(5), items[0].ConversationID)

	// A token removed after restart may be queued again.
	require.NoError(t, reopened.Remove("a"))
	require.NoError(t, reopened.Append(pending("a", "requeued")))
	items, err = reopened.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "requeued"}, contents(items))
}

func openTestBolt(t *testing.T, path string) *BoltOutbox {
	t.Helper()
	o, err := OpenBoltOutbox(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}
