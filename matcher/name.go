// Package matcher implements the domain-pattern matching algebra used by the
// rule table: canonical names, the four WildcardName variants, and a
// reversed-label trie that resolves a query name to its most specific rule.
package matcher

import (
	"strings"
)

// Name is a canonical, case-insensitive DNS name. The zero value is the root.
// Labels are stored without a trailing dot; FQDN() reintroduces it.
type Name struct {
	labels []string // left to right, e.g. ["www", "example", "com"]
}

// ParseName lowercases and splits s into labels, trimming a trailing root dot
// and collapsing an all-empty input to the root name.
func ParseName(s string) Name {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return Name{}
	}
	parts := strings.Split(s, ".")
	labels := make([]string, len(parts))
	for i, p := range parts {
		labels[i] = strings.ToLower(p)
	}
	return Name{labels: labels}
}

// String renders the name in dotted form without a trailing root dot.
func (n Name) String() string {
	return strings.Join(n.labels, ".")
}

// FQDN renders the name with a trailing root dot, as DNS wire names appear.
func (n Name) FQDN() string {
	if len(n.labels) == 0 {
		return "."
	}
	return n.String() + "."
}

// IsRoot reports whether n is the zero-label root name.
func (n Name) IsRoot() bool {
	return len(n.labels) == 0
}

// NumLabels returns the label count.
func (n Name) NumLabels() int {
	return len(n.labels)
}

// Label returns the i-th label counting from the left (0 = leftmost, most
// specific label).
func (n Name) Label(i int) string {
	return n.labels[i]
}

// BaseName returns n with its leftmost label stripped — the immediate parent
// zone. Calling BaseName on the root returns the root.
func (n Name) BaseName() Name {
	if len(n.labels) == 0 {
		return n
	}
	return Name{labels: n.labels[1:]}
}

// Equal reports case-insensitive (already-lowercased) equality.
func (n Name) Equal(o Name) bool {
	if len(n.labels) != len(o.labels) {
		return false
	}
	for i := range n.labels {
		if n.labels[i] != o.labels[i] {
			return false
		}
	}
	return true
}

// ZoneOf reports whether n is a zone-ancestor of target, i.e. target equals n
// or target is a subdomain of n. ZoneOf is reflexive: n.ZoneOf(n) is true.
func (n Name) ZoneOf(target Name) bool {
	diff := len(target.labels) - len(n.labels)
	if diff < 0 {
		return false
	}
	for i, lbl := range n.labels {
		if target.labels[diff+i] != lbl {
			return false
		}
	}
	return true
}

// Compare provides a total lexicographic order over names, comparing labels
// right-to-left (TLD first) so that names under the same parent zone sort
// together. Used to order rule-table entries deterministically.
func (n Name) Compare(o Name) int {
	na, nb := len(n.labels), len(o.labels)
	for i := 1; i <= na && i <= nb; i++ {
		a := n.labels[na-i]
		b := o.labels[nb-i]
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}
