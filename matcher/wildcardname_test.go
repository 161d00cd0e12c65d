package matcher

import "testing"

func n(s string) Name { return ParseName(s) }

func TestWildcardNameDefault(t *testing.T) {
	w, err := ParseWildcardName("example.com")
	if err != nil {
		t.Fatal(err)
	}
	if w.Variant() != VariantDefault {
		t.Fatalf("expected Default variant, got %v", w.Variant())
	}
	for _, name := range []string{"example.com", "a.example.com", "b.a.example.com"} {
		if !w.IsMatch(n(name)) {
			t.Errorf("expected %s to match", name)
		}
	}
}

func TestWildcardNameSuffix(t *testing.T) {
	w, err := ParseWildcardName("+.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if w.IsMatch(n("example.com")) {
		t.Error("suffix pattern must not match the bare domain")
	}
	if !w.IsMatch(n("a.example.com")) || !w.IsMatch(n("b.a.example.com")) {
		t.Error("suffix pattern must match subdomains")
	}
}

func TestWildcardNameSub(t *testing.T) {
	w, err := ParseWildcardName("*.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if w.IsMatch(n("example.com")) {
		t.Error("sub pattern must not match the bare domain")
	}
	if !w.IsMatch(n("a.example.com")) {
		t.Error("sub pattern must match a direct child")
	}
	if w.IsMatch(n("b.a.example.com")) {
		t.Error("sub pattern must not match two levels down")
	}
}

func TestWildcardNameSubGlob(t *testing.T) {
	w, err := ParseWildcardName("a*b.example.com")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"example.com":        false,
		"awwwb.example.com":  true,
		"awww.example.com":   false,
		"wwb.example.com":    false,
		"b.a.example.com":    false,
	}
	for name, want := range cases {
		if got := w.IsMatch(n(name)); got != want {
			t.Errorf("%s: got %v want %v", name, got, want)
		}
	}
}

func TestWildcardNameFull(t *testing.T) {
	w, err := ParseWildcardName("-.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsMatch(n("example.com")) {
		t.Error("full pattern must match the bare domain")
	}
	if w.IsMatch(n("a.example.com")) || w.IsMatch(n("b.a.example.com")) {
		t.Error("full pattern must not match any subdomain")
	}
}

func TestWildcardCDNExample(t *testing.T) {
	// Concrete scenario 6 from spec §8.
	w, err := ParseWildcardName("*.cdn.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !w.IsMatch(n("a.cdn.example.com")) {
		t.Error("must match a.cdn.example.com")
	}
	if w.IsMatch(n("cdn.example.com")) {
		t.Error("must not match cdn.example.com")
	}
	if w.IsMatch(n("x.a.cdn.example.com")) {
		t.Error("must not match x.a.cdn.example.com")
	}
}

func TestWildcardNameOrdering(t *testing.T) {
	full, _ := ParseWildcardName("-.example.com")
	sub, _ := ParseWildcardName("*.example.com")
	suffix, _ := ParseWildcardName("+.example.com")
	def, _ := ParseWildcardName("example.com")

	// Same domain: Full > Sub > Suffix > Default.
	if full.Compare(sub) <= 0 {
		t.Error("full should rank above sub")
	}
	if sub.Compare(suffix) <= 0 {
		t.Error("sub should rank above suffix")
	}
	if suffix.Compare(def) <= 0 {
		t.Error("suffix should rank above default")
	}

	// A deeper domain outranks a shallower one regardless of variant.
	deepDefault, _ := ParseWildcardName("a.example.com")
	if deepDefault.Compare(full) <= 0 {
		t.Error("a deeper anchor domain should outrank a shallower Full entry")
	}
}
