// Package cache implements the positive/negative DNS answer cache (spec
// §4.2): a sharded concurrent map with approximate LRU eviction, TTL
// clamping, serve-expired-with-background-refresh semantics, and a
// single-flight barrier so concurrent misses for the same key produce
// exactly one upstream exchange (spec §8's single-flight invariant).
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// Key identifies one cached answer.
type Key struct {
	Name   string // lowercased FQDN, trailing dot included
	Qtype  uint16
	Qclass uint16
}

// Source records where a cached answer originated, per spec §3's
// CachedEntry.source.
type Source uint8

const (
	SourceUpstream Source = iota
	SourceStatic
	SourceSynthesized
)

// RefreshFunc performs the actual upstream lookup for key; the cache calls
// it through a singleflight barrier on miss, on expired-but-serveable hits
// (background), and on near-expiry hits when prefetch is enabled
// (background). It is supplied by the name-server middleware so that this
// package has no dependency on the upstream dispatch/pipeline packages.
type RefreshFunc func(ctx context.Context, key Key) (msg *dns.Msg, ttl uint32, source Source, err error)

// Options configures cache-wide policy. Per-query overrides (no_cache,
// no_serve_expired, rr_ttl_*) are applied by the caller before/after calling
// into Cache; Options holds only the directive-file defaults.
type Options struct {
	Capacity             int // total entries across all shards; default 512
	Shards               int // default 16
	ServeExpired         bool
	ServeExpiredTTL      time.Duration // max staleness a stale entry may still be served for
	ServeExpiredReplyTTL time.Duration // TTL stamped onto a served-stale reply; default 5s
	PrefetchDomain       bool
	RRTTLMin             uint32
	RRTTLMax             uint32
	RRTTLReplyMax        uint32
	NegativeTTLDefault   uint32 // used when a NXDOMAIN/NODATA reply carries no SOA
}

// DefaultOptions returns the directive-file defaults from spec §4.2/§6.2.
func DefaultOptions() Options {
	return Options{
		Capacity:             512,
		Shards:               16,
		ServeExpired:         false,
		ServeExpiredTTL:      600 * time.Second,
		ServeExpiredReplyTTL: 5 * time.Second,
		PrefetchDomain:       false,
		RRTTLMin:             0,
		RRTTLMax:             0, // 0 = unbounded
		RRTTLReplyMax:        0, // 0 = unbounded
		NegativeTTLDefault:   60,
	}
}

// entry is one stored answer plus its LRU list element.
type entry struct {
	key         Key
	msg         *dns.Msg
	storedAt    time.Time
	originalTTL uint32
	hitCount    uint64
	source      Source
	elem        *list.Element // points back into the shard's LRU list
}

type shard struct {
	mu       sync.Mutex
	items    map[Key]*entry
	lru      *list.List // front = most recently used
	capacity int
}

// Cache is the sharded, single-flight-guarded answer store.
type Cache struct {
	opts     Options
	shards   []*shard
	sf       singleflight.Group
	refresh  RefreshFunc
	now      func() time.Time // overridable for tests
	onInsert func(Key)        // test/metrics hook, optional
}

// New builds a Cache from opts. SetRefresher must be called before Get is
// used on a miss, or misses return ErrNoRefresher.
func New(opts Options) *Cache {
	if opts.Shards <= 0 {
		opts.Shards = 16
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 512
	}
	perShard := opts.Capacity / opts.Shards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{opts: opts, now: time.Now}
	c.shards = make([]*shard, opts.Shards)
	for i := range c.shards {
		c.shards[i] = &shard{
			items:    make(map[Key]*entry),
			lru:      list.New(),
			capacity: perShard,
		}
	}
	return c
}

// SetRefresher wires the function used to populate the cache on miss and to
// drive background refreshes.
func (c *Cache) SetRefresher(fn RefreshFunc) {
	c.refresh = fn
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv1a(k.Name) ^ uint64(k.Qtype)<<1 ^ uint64(k.Qclass)<<3
	return c.shards[h%uint64(len(c.shards))]
}

func fnv1a(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// Result is what Get returns: a response message ready to send to the
// client, whether it was served from cache at all, and whether a background
// refresh was scheduled for this key as a side effect (serve-expired or
// prefetch).
type Result struct {
	Msg        *dns.Msg
	Hit        bool
	Background bool
}

// Get looks up key. On a fresh hit it returns the entry (TTL-adjusted for
// elapsed time and clamped to RRTTLReplyMax). On a stale-but-serveable hit
// (serveExpired enabled, age within ServeExpiredTTL) it returns the stale
// entry with TTL clamped to ServeExpiredReplyTTL and schedules a background
// refresh. On prefetch-eligible hits (within 10% of TTL) it schedules a
// background refresh without altering the served TTL. On a true miss it
// performs a synchronous single-flight refresh so that concurrent misses for
// the same key produce exactly one upstream exchange (spec §8).
func (c *Cache) Get(ctx context.Context, key Key, serveExpired bool, serveExpiredTTL, serveExpiredReplyTTL time.Duration, prefetch bool) (Result, error) {
	sh := c.shardFor(key)
	now := c.now()

	sh.mu.Lock()
	e, ok := sh.items[key]
	if ok {
		sh.lru.MoveToFront(e.elem)
		e.hitCount++
	}
	sh.mu.Unlock()

	if ok {
		age := now.Sub(e.storedAt)
		fresh := age <= time.Duration(e.originalTTL)*time.Second

		if fresh {
			background := false
			if prefetch {
				remaining := time.Duration(e.originalTTL)*time.Second - age
				if remaining <= time.Duration(e.originalTTL)*time.Second/10 {
					background = true
					c.triggerBackgroundRefresh(key)
				}
			}
			return Result{Msg: adjustTTL(e, now, c.opts.RRTTLReplyMax), Hit: true, Background: background}, nil
		}

		if serveExpired && age <= serveExpiredTTL {
			c.triggerBackgroundRefresh(key)
			msg := e.msg.Copy()
			msg.Id = 0
			setAllTTL(msg, uint32(serveExpiredReplyTTL/time.Second))
			return Result{Msg: msg, Hit: true, Background: true}, nil
		}
	}

	// True miss (or stale-and-not-serveable): synchronous single-flight fetch.
	return c.fetchSynchronous(ctx, key)
}

func (c *Cache) fetchSynchronous(ctx context.Context, key Key) (Result, error) {
	if c.refresh == nil {
		return Result{}, ErrNoRefresher
	}
	v, err, _ := c.sf.Do(sfKey(key), func() (any, error) {
		msg, ttl, source, rerr := c.refresh(ctx, key)
		if rerr != nil {
			return nil, rerr
		}
		c.Insert(key, msg, ttl, source)
		return msg, nil
	})
	if err != nil {
		return Result{}, err
	}
	msg, _ := v.(*dns.Msg)
	return Result{Msg: msg.Copy(), Hit: false}, nil
}

// triggerBackgroundRefresh starts (or joins) a singleflight refresh for key
// that is not attached to any client request's context or cancellation
// (spec §9: "Background refresh lifetime... not attached to any client
// request"). It uses context.Background() deliberately.
func (c *Cache) triggerBackgroundRefresh(key Key) {
	if c.refresh == nil {
		return
	}
	go func() {
		_, _, _ = c.sf.Do(sfKey(key), func() (any, error) {
			msg, ttl, source, err := c.refresh(context.Background(), key)
			if err != nil {
				return nil, err
			}
			c.Insert(key, msg, ttl, source)
			return msg, nil
		})
	}()
}

func sfKey(k Key) string {
	return k.Name + "\x00" + itoa(k.Qtype) + "\x00" + itoa(k.Qclass)
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Insert clamps ttl to [RRTTLMin, RRTTLMax] and stores msg, evicting the
// shard's least-recently-used entry if at capacity (spec §4.2).
func (c *Cache) Insert(key Key, msg *dns.Msg, ttl uint32, source Source) {
	ttl = clampTTL(ttl, c.opts.RRTTLMin, c.opts.RRTTLMax)

	sh := c.shardFor(key)
	stored := msg.Copy()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.items[key]; ok {
		existing.msg = stored
		existing.storedAt = c.now()
		existing.originalTTL = ttl
		existing.source = source
		sh.lru.MoveToFront(existing.elem)
		return
	}

	if sh.lru.Len() >= sh.capacity {
		back := sh.lru.Back()
		if back != nil {
			evicted := back.Value.(*entry)
			delete(sh.items, evicted.key)
			sh.lru.Remove(back)
		}
	}

	e := &entry{key: key, msg: stored, storedAt: c.now(), originalTTL: ttl, source: source}
	e.elem = sh.lru.PushFront(e)
	sh.items[key] = e

	if c.onInsert != nil {
		c.onInsert(key)
	}
}

// Peek returns the stored message for key without affecting LRU order or
// triggering a refresh, for diagnostics and persistence.
func (c *Cache) Peek(key Key) (msg *dns.Msg, storedAt time.Time, ttl uint32, ok bool) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, found := sh.items[key]
	if !found {
		return nil, time.Time{}, 0, false
	}
	return e.msg.Copy(), e.storedAt, e.originalTTL, true
}

// Delete removes key if present.
func (c *Cache) Delete(key Key) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.items[key]; ok {
		sh.lru.Remove(e.elem)
		delete(sh.items, key)
	}
}

// Len returns the total number of cached entries across all shards.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}

// ForEach walks every fresh entry (used by the persistence checkpoint). The
// callback must not call back into the Cache.
func (c *Cache) ForEach(fn func(Key, *dns.Msg, time.Time, uint32)) {
	now := c.now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			age := now.Sub(e.storedAt)
			if age <= time.Duration(e.originalTTL)*time.Second {
				fn(k, e.msg, e.storedAt, e.originalTTL)
			}
		}
		sh.mu.Unlock()
	}
}

func clampTTL(ttl, min, max uint32) uint32 {
	if min > 0 && ttl < min {
		ttl = min
	}
	if max > 0 && ttl > max {
		ttl = max
	}
	return ttl
}

func adjustTTL(e *entry, now time.Time, replyMax uint32) *dns.Msg {
	age := uint32(now.Sub(e.storedAt).Seconds())
	remaining := e.originalTTL
	if age < remaining {
		remaining -= age
	} else {
		remaining = 0
	}
	if replyMax > 0 && remaining > replyMax {
		remaining = replyMax
	}
	msg := e.msg.Copy()
	setAllTTL(msg, remaining)
	return msg
}

func setAllTTL(msg *dns.Msg, ttl uint32) {
	for _, rr := range msg.Answer {
		rr.Header().Ttl = ttl
	}
	for _, rr := range msg.Ns {
		rr.Header().Ttl = ttl
	}
	for _, rr := range msg.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		rr.Header().Ttl = ttl
	}
}
