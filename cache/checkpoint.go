package cache

import (
	"time"

	"github.com/rs/zerolog"
)

// Checkpoint periodically persists a Cache to disk and reloads it once at
// startup — the on-disk snapshot option from spec §4.2/§6.3. Its shape (a
// stop-channel-guarded background goroutine started and stopped explicitly
// by the owner) mirrors the teacher's updater.Updater, repurposed here for
// cache persistence instead of rule-source refresh.
type Checkpoint struct {
	cache    *Cache
	path     string
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

// NewCheckpoint builds a Checkpoint. interval <= 0 disables periodic saves
// (LoadAtStartup still loads once at startup and Stop still saves once at
// shutdown).
func NewCheckpoint(c *Cache, path string, interval time.Duration, log zerolog.Logger) *Checkpoint {
	return &Checkpoint{cache: c, path: path, interval: interval, log: log, stop: make(chan struct{})}
}

// LoadAtStartup loads path into the cache if it exists, logging but not
// failing on error (persistence is best-effort per spec §7's CacheError).
func (cp *Checkpoint) LoadAtStartup() {
	if cp.path == "" {
		return
	}
	if err := cp.cache.LoadSnapshot(cp.path); err != nil {
		cerr := &CacheError{Op: "load_snapshot", Err: err}
		cp.log.Warn().Err(cerr).Str("path", cp.path).Msg("cache: failed to load snapshot")
	}
}

// Run starts the periodic-save goroutine; call Stop to end it.
func (cp *Checkpoint) Run() {
	if cp.path == "" || cp.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(cp.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cp.saveOnce()
			case <-cp.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic-save goroutine and performs one final save.
func (cp *Checkpoint) Stop() {
	close(cp.stop)
	cp.saveOnce()
}

func (cp *Checkpoint) saveOnce() {
	if cp.path == "" {
		return
	}
	if err := cp.cache.SaveSnapshot(cp.path); err != nil {
		cerr := &CacheError{Op: "save_snapshot", Err: err}
		cp.log.Warn().Err(cerr).Str("path", cp.path).Msg("cache: failed to write snapshot")
		return
	}
	cp.log.Debug().Str("path", cp.path).Int("entries", cp.cache.Len()).Msg("cache: snapshot written")
}
