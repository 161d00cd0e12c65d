package rule

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"smartdns/matcher"
)

// DomainSet is a named, file-loaded list of domain patterns (spec §3's
// "named domain-set reference"). Each line is parsed with the same
// directive-pattern grammar as a `domain-rules` anchor ("d", "+.d", "*.d",
// "-.d"); a bare domain with no modifier prefix is treated as a Default
// pattern, matching itself and all subdomains.
type DomainSet struct {
	Patterns []matcher.WildcardName
}

// LoadDomainSet parses one pattern per line (blank lines and '#' comments
// ignored).
func LoadDomainSet(r io.Reader) (*DomainSet, error) {
	var patterns []matcher.WildcardName
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w, err := matcher.ParseWildcardName(line)
		if err != nil {
			return nil, fmt.Errorf("domain-set: line %d: %w", lineNo, err)
		}
		patterns = append(patterns, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &DomainSet{Patterns: patterns}, nil
}

// DomainSetRegistry holds every named domain-set loaded from config,
// resolved against by Domain references in `domain-rules` and `nameserver`
// directives at load time (spec §4.1: sets are flattened into the rule trie
// before the first lookup, never resolved per-query).
type DomainSetRegistry struct {
	mu   sync.RWMutex
	sets map[string]*DomainSet
}

// NewDomainSetRegistry returns an empty registry.
func NewDomainSetRegistry() *DomainSetRegistry {
	return &DomainSetRegistry{sets: make(map[string]*DomainSet)}
}

// Put registers (or replaces) the named set.
func (r *DomainSetRegistry) Put(name string, s *DomainSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[name] = s
}

// Get returns the named set, or nil if unknown.
func (r *DomainSetRegistry) Get(name string) *DomainSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[name]
}

// Domain is either a literal WildcardName or a reference to a named
// domain-set (spec §3's `Domain` sum type).
type Domain struct {
	Name    *matcher.WildcardName
	SetName string
}

// ParseDomain parses the directive-file spelling: "/pattern/" for a literal
// pattern, or "/domain-set:name/" for a set reference (slashes are stripped
// by the directive-line tokenizer before this is called).
func ParseDomain(s string) (Domain, error) {
	if name, ok := strings.CutPrefix(s, "domain-set:"); ok {
		return Domain{SetName: name}, nil
	}
	w, err := matcher.ParseWildcardName(s)
	if err != nil {
		return Domain{}, &RuleError{Pattern: s, Err: err}
	}
	return Domain{Name: &w}, nil
}

// Resolve expands d into the concrete WildcardName patterns it denotes: one
// pattern for a literal Domain, or every member of the referenced set.
func (d Domain) Resolve(reg *DomainSetRegistry) []matcher.WildcardName {
	if d.Name != nil {
		return []matcher.WildcardName{*d.Name}
	}
	if d.SetName == "" || reg == nil {
		return nil
	}
	set := reg.Get(d.SetName)
	if set == nil {
		return nil
	}
	return set.Patterns
}
