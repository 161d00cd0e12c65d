package config

import "strings"

// addressValueTokens are the `address`/`domain-rules -address` value codes
// that look like comment-starts but are real tokens (spec §4.4, §6.2).
var addressValueTokens = map[string]bool{"#": true, "#4": true, "#6": true}

// tokenizeLine splits one directive-file line into its directive name and
// the remaining whitespace-separated fields, honoring `# comment` (a '#'
// that starts a new field ends the line, unless that field is exactly one
// of the reserved address-value codes "#", "#4", "#6", which are kept).
// Blank lines and lines that are entirely a comment return ok=false.
func tokenizeLine(line string) (directive string, fields []string, ok bool) {
	raw := strings.Fields(line)
	var kept []string
	for _, tok := range raw {
		if strings.HasPrefix(tok, "#") && !addressValueTokens[tok] {
			break
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return "", nil, false
	}
	return kept[0], kept[1:], true
}

// flagValue scans fields for `-name value` and returns value, true. Flags
// without a following value (boolean switches like `-exclude-default`) are
// matched by hasFlag instead.
func flagValue(fields []string, name string) (string, bool) {
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == name {
			return fields[i+1], true
		}
	}
	return "", false
}

// hasFlag reports whether name appears as a bare switch anywhere in fields.
func hasFlag(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// stripSlashes removes a leading and trailing '/' used to delimit domain
// patterns in `address`/`domain-rules`/`nameserver` directives, per the
// directive-file spelling in spec §6.2.
func stripSlashes(s string) string {
	if len(s) >= 2 && s[0] == '/' && s[len(s)-1] == '/' {
		return s[1 : len(s)-1]
	}
	return s
}
