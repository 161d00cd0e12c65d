package matcher

import "testing"

func mustParse(t *testing.T, pattern string) WildcardName {
	t.Helper()
	w, err := ParseWildcardName(pattern)
	if err != nil {
		t.Fatalf("parse %q: %v", pattern, err)
	}
	return w
}

func TestRuleTableLongestMatchWins(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "example.com"), "general")
	tbl.Insert(mustParse(t, "+.a.example.com"), "specific")

	v, ok := tbl.Lookup(n("b.a.example.com"))
	if !ok || v != "specific" {
		t.Fatalf("got %q, %v; want specific", v, ok)
	}

	v, ok = tbl.Lookup(n("other.example.com"))
	if !ok || v != "general" {
		t.Fatalf("got %q, %v; want general", v, ok)
	}
}

func TestRuleTableVariantRankAtSameDomain(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "example.com"), "default")
	tbl.Insert(mustParse(t, "+.example.com"), "suffix")
	tbl.Insert(mustParse(t, "-.example.com"), "full")

	v, ok := tbl.Lookup(n("example.com"))
	if !ok || v != "full" {
		t.Fatalf("got %q; want full to win at exact match", v)
	}

	v, ok = tbl.Lookup(n("a.example.com"))
	if !ok || v != "suffix" {
		t.Fatalf("got %q; want suffix to win for subdomain", v)
	}
}

func TestRuleTableSubVariant(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "*.cdn.example.com"), "sub")
	tbl.Insert(mustParse(t, "cdn.example.com"), "default")

	v, ok := tbl.Lookup(n("a.cdn.example.com"))
	if !ok || v != "sub" {
		t.Fatalf("got %q; want sub", v)
	}

	v, ok = tbl.Lookup(n("x.a.cdn.example.com"))
	if !ok || v != "default" {
		t.Fatalf("got %q; want default (sub doesn't reach two levels down)", v)
	}
}

func TestRuleTableNoMatch(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "example.com"), "v")

	if _, ok := tbl.Lookup(n("example.org")); ok {
		t.Error("unrelated domain must not match")
	}
}

func TestRuleTableLastConfiguredWins(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "example.com"), "first")
	tbl.Insert(mustParse(t, "example.com"), "second")

	v, ok := tbl.Lookup(n("example.com"))
	if !ok || v != "second" {
		t.Fatalf("got %q; want second (last-configured-wins)", v)
	}
}

func TestRuleTableLookupChainOrdering(t *testing.T) {
	tbl := NewRuleTable[string]()
	tbl.Insert(mustParse(t, "example.com"), "general")
	tbl.Insert(mustParse(t, "+.a.example.com"), "specific")

	chain := tbl.LookupChain(n("b.a.example.com"))
	if len(chain) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(chain))
	}
	if chain[0] != "general" || chain[1] != "specific" {
		t.Fatalf("expected [general specific], got %v", chain)
	}
}
