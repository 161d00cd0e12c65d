package matcher

import "sync"

// entry is one WildcardName -> value binding stored in a RuleTable node,
// tagged with insertion order for the last-configured-wins tie-break.
type entry[V any] struct {
	name  WildcardName
	value V
	seq   uint64
}

type node[V any] struct {
	children map[string]*node[V]
	entries  []*entry[V]
}

// RuleTable is the trie-backed "longest-suffix + wildcard" rule lookup
// described in spec §4.1. Entries are keyed by the reversed labels of their
// WildcardName's anchor domain so that a single left-to-right walk of the
// query's labels (processed TLD-first) visits every zone-ancestor base in
// increasing specificity order. It is safe for concurrent readers; callers
// needing atomic bulk reload should build a fresh RuleTable and swap it in
// (the pattern used by the rest of the pipeline for config/rule reloads).
type RuleTable[V any] struct {
	mu   sync.RWMutex
	root *node[V]
	seq  uint64
}

// NewRuleTable returns an empty table.
func NewRuleTable[V any]() *RuleTable[V] {
	return &RuleTable[V]{root: &node[V]{children: make(map[string]*node[V])}}
}

// Insert binds w to value. Later inserts for an identical (domain, variant)
// pair win ties at lookup time (last-configured-wins).
func (t *RuleTable[V]) Insert(w WildcardName, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	base := w.Base()
	for i := base.NumLabels() - 1; i >= 0; i-- {
		lbl := base.Label(i)
		child := n.children[lbl]
		if child == nil {
			child = &node[V]{children: make(map[string]*node[V])}
			n.children[lbl] = child
		}
		n = child
	}
	t.seq++
	n.entries = append(n.entries, &entry[V]{name: w, value: value, seq: t.seq})
}

// Lookup returns the value of the single most specific matching rule for
// name, per the §3 ordering (domain specificity first, then variant rank,
// then last-configured-wins). ok is false if no rule matches.
func (t *RuleTable[V]) Lookup(name Name) (value V, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *entry[V]
	t.walk(name, func(e *entry[V]) {
		if best == nil || isMoreSpecific(e, best) {
			best = e
		}
	})
	if best == nil {
		return value, false
	}
	return best.value, true
}

// LookupChain returns every matching rule for name, ordered from least to
// most specific — the order §9's field-wise merge (DomainRule::merge) wants
// to fold over: general-to-specific, specific overriding general.
func (t *RuleTable[V]) LookupChain(name Name) []V {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []*entry[V]
	t.walk(name, func(e *entry[V]) {
		matches = append(matches, e)
	})

	// Sort ascending by specificity (base.Compare ascending, then variant
	// rank descending since lower rank = more specific = applied last).
	// Insertion sort is fine: rule chains are short (a handful of ancestor
	// zones at most).
	for i := 1; i < len(matches); i++ {
		j := i
		for j > 0 && isMoreSpecific(matches[j-1], matches[j]) {
			matches[j], matches[j-1] = matches[j-1], matches[j]
			j--
		}
	}

	values := make([]V, len(matches))
	for i, e := range matches {
		values[i] = e.value
	}
	return values
}

// walk visits every entry anchored at a zone-ancestor of name (including name
// itself) whose variant condition is actually satisfied against name.
func (t *RuleTable[V]) walk(name Name, visit func(*entry[V])) {
	total := name.NumLabels()
	n := t.root
	// k = labels consumed from the right (TLD-first) so far; the node
	// reached after consuming k labels represents a base anchored to the
	// last k labels of name, leaving `remaining = total - k` labels (name's
	// leftmost labels) unaccounted for.
	for k := 0; ; k++ {
		remaining := total - k
		for _, e := range n.entries {
			if matchesAtRemaining(e.name, name, remaining) {
				visit(e)
			}
		}
		if k == total {
			break
		}
		nextLabel := name.Label(total - 1 - k)
		child, ok := n.children[nextLabel]
		if !ok {
			break
		}
		n = child
	}
}

// matchesAtRemaining checks the variant-specific condition once we already
// know the node's base equals name's suffix starting `remaining` labels in
// (i.e. base has name.NumLabels()-remaining labels and equals that suffix).
func matchesAtRemaining(w WildcardName, name Name, remaining int) bool {
	switch w.Variant() {
	case VariantDefault:
		return true
	case VariantSuffix:
		return remaining > 0
	case VariantFull:
		return remaining == 0
	case VariantSub:
		return remaining == 1 && w.IsMatch(name)
	default:
		return false
	}
}

// isMoreSpecific reports whether a should be preferred over b under the §3
// ordering: a's WildcardName is "greater" (more specific / later-configured).
func isMoreSpecific[V any](a, b *entry[V]) bool {
	switch c := a.name.Compare(b.name); {
	case c > 0:
		return true
	case c < 0:
		return false
	default:
		return a.seq > b.seq
	}
}
