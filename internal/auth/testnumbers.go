package auth

import "strings"

// TestNumbers matches phones that receive the fixed code instead of a real
// delivery. Entries are exact canonical phones; an entry ending in '*' matches
// every phone sharing the prefix before it.
type TestNumbers struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewTestNumbers builds a matcher from configuration entries. Each entry is
// passed through normalize (the '*' suffix is kept aside) so operators can list
// numbers in any format.
func NewTestNumbers(entries []string, normalize func(string) string) TestNumbers {
	tn := TestNumbers{exact: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, ok := strings.CutSuffix(e, "*"); ok {
			if p = digits(p); p != "" {
				tn.prefixes = append(tn.prefixes, p)
			}
			continue
		}
		if normalize != nil {
			e = normalize(e)
		}
		if e != "" {
			tn.exact[e] = struct{}{}
		}
	}
	return tn
}

// Match reports whether phone is a designated test number.
func (tn TestNumbers) Match(phone string) bool {
	if phone == "" {
		return false
	}
	if _, ok := tn.exact[phone]; ok {
		return true
	}
	for _, p := range tn.prefixes {
		if strings.HasPrefix(phone, p) {
			return true
		}
	}
	return false
}

// Len returns the number of configured entries.
func (tn TestNumbers) Len() int { return len(tn.exact) + len(tn.prefixes) }

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
