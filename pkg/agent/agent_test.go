package agent

import "testing"

func TestStatusConstants(t *testing.T) {
	if StatusInactive == StatusActive {
		t.Fatal("agent statuses must be distinct")
	}
}

func TestFilterModeConstants(t *testing.T) {
	if FilterModeAnd == FilterModeOr {
		t.Fatal("filter modes must be distinct")
	}
}
