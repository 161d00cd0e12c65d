package cache

import (
	"errors"
	"fmt"
)

// ErrNoRefresher is returned by Get on a miss when no RefreshFunc has been
// wired via SetRefresher.
var ErrNoRefresher = errors.New("cache: no refresher configured")

// CacheError reports a failure in the cache's own bookkeeping — a
// checkpoint write, a snapshot load, a corrupt persisted entry — as
// distinct from a miss or an upstream failure (spec §7). Callers log and
// discard it: a cache malfunction degrades to "always miss", never aborts
// a query.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
