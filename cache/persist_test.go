package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.snap")

	c1 := New(DefaultOptions())
	fresh := Key{Name: "fresh.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	c1.Insert(fresh, answerMsg(fresh.Name, 300), 300, SourceUpstream)

	require.NoError(t, c1.SaveSnapshot(path))

	c2 := New(DefaultOptions())
	require.NoError(t, c2.LoadSnapshot(path))

	res, err := c2.Get(context.Background(), fresh, false, 0, 0, false)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.Len(t, res.Msg.Answer, 1)
}

func TestSnapshotDiscardsStaleEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.snap")

	c1 := New(DefaultOptions())
	start := time.Now()
	c1.now = func() time.Time { return start.Add(-1 * time.Hour) }
	stale := Key{Name: "stale.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	c1.Insert(stale, answerMsg(stale.Name, 10), 10, SourceUpstream)

	require.NoError(t, c1.SaveSnapshot(path))

	c2 := New(DefaultOptions())
	require.NoError(t, c2.LoadSnapshot(path))

	require.Equal(t, 0, c2.Len(), "stale entry must be discarded on load")
}

func TestSnapshotMissingFileIsNotAnError(t *testing.T) {
	c := New(DefaultOptions())
	require.NoError(t, c.LoadSnapshot(filepath.Join(t.TempDir(), "missing.snap")))
}
