package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func answerMsg(name string, ttl uint32) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	rr, _ := dns.NewRR(name + " " + itoa32(ttl) + " IN A 93.184.216.34")
	m.Answer = append(m.Answer, rr)
	return m
}

func itoa32(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestCacheSingleFlightOneExchangePerKey(t *testing.T) {
	c := New(DefaultOptions())
	var calls int64
	c.SetRefresher(func(ctx context.Context, key Key) (*dns.Msg, uint32, Source, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return answerMsg(key.Name, 300), 300, SourceUpstream, nil
	})

	key := Key{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}

	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Get(context.Background(), key, false, 0, 0, false)
			require.NoError(t, err)
			require.True(t, res.Msg.Answer != nil)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&calls), "expected exactly one upstream exchange for concurrent misses")
}

func TestCacheFreshHit(t *testing.T) {
	c := New(DefaultOptions())
	key := Key{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	c.Insert(key, answerMsg(key.Name, 300), 300, SourceUpstream)

	res, err := c.Get(context.Background(), key, false, 0, 0, false)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.False(t, res.Background)
}

func TestCacheServeExpired(t *testing.T) {
	// Concrete scenario 3 from spec §8: cache at t=0 with TTL=300, query at
	// t=301s with serve-expired on and serve-expired-ttl=600 -> stale reply
	// with TTL clamped to serve-expired-reply-ttl=5, background refresh
	// scheduled.
	c := New(DefaultOptions())
	start := time.Now()
	c.now = func() time.Time { return start }

	key := Key{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	c.Insert(key, answerMsg(key.Name, 300), 300, SourceUpstream)

	refreshed := make(chan struct{}, 1)
	c.SetRefresher(func(ctx context.Context, key Key) (*dns.Msg, uint32, Source, error) {
		refreshed <- struct{}{}
		return answerMsg(key.Name, 300), 300, SourceUpstream, nil
	})

	c.now = func() time.Time { return start.Add(301 * time.Second) }

	res, err := c.Get(context.Background(), key, true, 600*time.Second, 5*time.Second, false)
	require.NoError(t, err)
	require.True(t, res.Hit)
	require.True(t, res.Background)
	require.Len(t, res.Msg.Answer, 1)
	require.EqualValues(t, 5, res.Msg.Answer[0].Header().Ttl)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("expected background refresh to run")
	}
}

func TestCacheReplyTTLClamp(t *testing.T) {
	opts := DefaultOptions()
	opts.RRTTLReplyMax = 60
	c := New(opts)
	key := Key{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	c.Insert(key, answerMsg(key.Name, 300), 300, SourceUpstream)

	res, err := c.Get(context.Background(), key, false, 0, 0, false)
	require.NoError(t, err)
	require.LessOrEqual(t, res.Msg.Answer[0].Header().Ttl, uint32(60))
}

func TestCacheEvictionApproximateLRU(t *testing.T) {
	opts := DefaultOptions()
	opts.Shards = 1
	opts.Capacity = 2
	c := New(opts)

	k1 := Key{Name: "a.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	k2 := Key{Name: "b.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	k3 := Key{Name: "c.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}

	c.Insert(k1, answerMsg(k1.Name, 300), 300, SourceUpstream)
	c.Insert(k2, answerMsg(k2.Name, 300), 300, SourceUpstream)
	// touch k1 so it's most-recently-used
	_, _ = c.Get(context.Background(), k1, false, 0, 0, false)
	c.Insert(k3, answerMsg(k3.Name, 300), 300, SourceUpstream)

	require.Equal(t, 2, c.Len())
	if _, _, _, ok := c.Peek(k2); ok {
		t.Error("expected k2 (least recently used) to have been evicted")
	}
	if _, _, _, ok := c.Peek(k1); !ok {
		t.Error("expected k1 to survive eviction")
	}
}

func TestNegativeTTLFromSOA(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Rcode = dns.RcodeNameError
	soa, _ := dns.NewRR("example.com. 3600 IN SOA ns.example.com. hostmaster.example.com. 1 7200 3600 1209600 300")
	m.Ns = append(m.Ns, soa)

	require.True(t, IsNegative(m))
	require.EqualValues(t, 300, NegativeTTL(m, 60))
}

func TestNegativeTTLFallback(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Rcode = dns.RcodeNameError
	require.EqualValues(t, 60, NegativeTTL(m, 60))
}
