package webhook

import "testing"

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name      string
		patterns  []string
		eventType string
		want      bool
	}{
		{"wildcard matches anything", []string{"*"}, "workorder.completed", true},
		{"exact match", []string{"workorder.completed"}, "workorder.completed", true},
		{"exact non-match", []string{"workorder.completed"}, "workorder.failed", false},
		{"prefix match", []string{"deployment.*"}, "deployment.applied", true},
		{"prefix non-match different namespace", []string{"deployment.*"}, "workorder.completed", false},
		{"prefix does not match bare namespace without separator", []string{"deployment.*"}, "deploymentobject.created", false},
		{"no patterns never matches", nil, "workorder.completed", false},
		{"multiple patterns, one matches", []string{"agent.*", "workorder.completed"}, "workorder.completed", true},
		{"multiple patterns, none matches", []string{"agent.*", "diagnostic.completed"}, "workorder.completed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesPattern(tt.patterns, tt.eventType); got != tt.want {
				t.Errorf("MatchesPattern(%v, %q) = %v, want %v", tt.patterns, tt.eventType, got, tt.want)
			}
		})
	}
}
