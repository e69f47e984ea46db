package filter

import "strings"

// Rules carries the two disjoint token lists applied to filenames before an
// item enters the download queue. Matching is case-insensitive substring
// containment, the way the ignore/include CLI flags have always behaved.
type Rules struct {
	Ignore  []string
	Include []string
}

// Empty reports whether no rule is configured.
func (r Rules) Empty() bool { return len(r.Ignore) == 0 && len(r.Include) == 0 }

// Admit reports whether filename passes the rule sets: admitted iff the
// include list is empty or at least one include token matches, and no ignore
// token matches.
func (r Rules) Admit(filename string) bool {
	name := strings.ToLower(filename)
	for _, tok := range r.Ignore {
		if tok == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(tok)) {
			return false
		}
	}
	if len(r.Include) == 0 {
		return true
	}
	for _, tok := range r.Include {
		if tok == "" {
			continue
		}
		if strings.Contains(name, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}
