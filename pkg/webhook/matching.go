package webhook

import "strings"

// MatchesPattern reports whether eventType satisfies at least one of
// patterns, per §4.5: "*" matches everything, an exact string matches
// itself, and a pattern ending in ".*" matches any event type sharing its
// prefix (e.g. "deployment.*" matches "deployment.applied").
func MatchesPattern(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if p == "*" || p == eventType {
			return true
		}
		if strings.HasSuffix(p, ".*") && strings.HasPrefix(eventType, p[:len(p)-1]) {
			return true
		}
	}
	return false
}
