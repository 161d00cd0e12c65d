package matcher

import "fmt"

// Variant tags the four WildcardName shapes. Lower values are more specific;
// this ordering is used directly by rankOf for the §3 tie-break rule
// (Full < Sub < Suffix < Default, more specific first).
type Variant uint8

const (
	VariantFull Variant = iota
	VariantSub
	VariantSuffix
	VariantDefault
)

func (v Variant) String() string {
	switch v {
	case VariantFull:
		return "full"
	case VariantSub:
		return "sub"
	case VariantSuffix:
		return "suffix"
	case VariantDefault:
		return "default"
	default:
		return "unknown"
	}
}

// WildcardName is a compiled domain pattern: one of Default(d), Suffix(d),
// Sub(glob, d), or Full(d) as defined in spec §3. The zero value is invalid;
// construct with the Parse* helpers or the New* constructors below.
type WildcardName struct {
	variant Variant
	base    Name // the "d" anchor in every variant
	glob    Glob // only meaningful for VariantSub
}

// NewDefault builds a Default(d) pattern: matches d and every subdomain of d.
func NewDefault(d Name) WildcardName { return WildcardName{variant: VariantDefault, base: d} }

// NewSuffix builds a Suffix(d) ("+.d") pattern: matches every strict
// subdomain of d, excluding d itself.
func NewSuffix(d Name) WildcardName { return WildcardName{variant: VariantSuffix, base: d} }

// NewSub builds a Sub(glob, d) ("glob.d") pattern: matches exactly one label
// under d whose text satisfies glob.
func NewSub(glob Glob, d Name) WildcardName {
	return WildcardName{variant: VariantSub, base: d, glob: glob}
}

// NewFull builds a Full(d) ("-.d") pattern: matches d exactly, nothing else.
func NewFull(d Name) WildcardName { return WildcardName{variant: VariantFull, base: d} }

// Variant reports which of the four shapes w is.
func (w WildcardName) Variant() Variant { return w.variant }

// Base returns the anchor name "d".
func (w WildcardName) Base() Name { return w.base }

// IsMatch implements the §3 matching semantics for each variant against n.
func (w WildcardName) IsMatch(n Name) bool {
	switch w.variant {
	case VariantDefault:
		return w.base.ZoneOf(n)
	case VariantSuffix:
		return !w.base.Equal(n) && w.base.ZoneOf(n)
	case VariantSub:
		if !w.base.Equal(n.BaseName()) {
			return false
		}
		if n.NumLabels() == 0 {
			// n has no leftmost label to test against the glob; only an
			// all-matching glob could accept this (can't actually happen
			// since BaseName of root is root and base would have to be root
			// with an empty leftmost label — treat as match-all glob case).
			return w.glob.IsMatchAll()
		}
		return w.glob.Match(n.Label(0))
	case VariantFull:
		return w.base.Equal(n)
	default:
		return false
	}
}

// rankOf returns the tie-break rank used when two patterns' Base() names
// compare equal: more specific variants have a lower rank, and Compare
// orders them above less specific ones.
func rankOf(v Variant) uint8 {
	switch v {
	case VariantFull:
		return 0
	case VariantSub:
		return 1
	case VariantSuffix:
		return 2
	case VariantDefault:
		return 3
	default:
		return 255
	}
}

// Compare orders WildcardNames lexicographically on Base(), then by variant
// specificity: at an equal Base(), Full > Sub > Suffix > Default. Among the
// patterns matching one name, the most specific one is therefore the maximum.
func (w WildcardName) Compare(o WildcardName) int {
	if c := w.base.Compare(o.base); c != 0 {
		return c
	}
	ra, rb := rankOf(w.variant), rankOf(o.variant)
	switch {
	case ra < rb:
		return 1
	case ra > rb:
		return -1
	default:
		return 0
	}
}

// String renders w back into its directive-file spelling:
// "d", "+.d", "glob.d", or "-.d".
func (w WildcardName) String() string {
	switch w.variant {
	case VariantDefault:
		return w.base.String()
	case VariantSuffix:
		return fmt.Sprintf("+.%s", w.base)
	case VariantSub:
		return fmt.Sprintf("%s.%s", w.glob, w.base)
	case VariantFull:
		return fmt.Sprintf("-.%s", w.base)
	default:
		return "<invalid>"
	}
}

// ParseWildcardName parses the directive-file pattern syntax ("d", "+.d",
// "glob.d", "-.d") into a WildcardName. A bare glob of "*" or "" is the
// match-all sub-wildcard.
func ParseWildcardName(pattern string) (WildcardName, error) {
	if pattern == "" {
		return WildcardName{}, fmt.Errorf("matcher: empty domain pattern")
	}

	switch {
	case len(pattern) > 2 && pattern[:2] == "+.":
		return NewSuffix(ParseName(pattern[2:])), nil
	case len(pattern) > 2 && pattern[:2] == "-.":
		return NewFull(ParseName(pattern[2:])), nil
	}

	// Sub form: "glob.d" where glob contains '*' or the whole first label is
	// itself the glob. We detect this by the presence of '*' in the
	// leftmost label; a pattern with no '*' anywhere is a Default name.
	name := ParseName(pattern)
	if name.NumLabels() == 0 {
		return WildcardName{}, fmt.Errorf("matcher: invalid domain pattern %q", pattern)
	}
	leftmost := name.Label(0)
	if leftmost == "" || containsStar(leftmost) {
		return NewSub(NewGlob(leftmost), name.BaseName()), nil
	}
	return NewDefault(name), nil
}

func containsStar(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			return true
		}
	}
	return false
}
