package workorder

import (
	"testing"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

func TestEligible_ExplicitTargetAlwaysMatches(t *testing.T) {
	if !Eligible(true, nil, nil, nil, nil) {
		t.Fatal("an explicitly targeted agent must be eligible regardless of tags")
	}
}

func TestEligible_SharedLabelMatches(t *testing.T) {
	if !Eligible(false, []string{"gpu"}, []string{"gpu", "arm64"}, nil, nil) {
		t.Fatal("a shared label must make the agent eligible")
	}
}

func TestEligible_SharedAnnotationMatches(t *testing.T) {
	woAnns := []labeling.Annotation{{Key: "region", Value: "us-east"}}
	agentAnns := []labeling.Annotation{{Key: "region", Value: "us-east"}}
	if !Eligible(false, nil, nil, woAnns, agentAnns) {
		t.Fatal("a shared annotation must make the agent eligible")
	}
}

func TestEligible_NoOverlapFails(t *testing.T) {
	if Eligible(false, []string{"gpu"}, []string{"arm64"}, nil, nil) {
		t.Fatal("disjoint labels and no target must not be eligible")
	}
}

func TestBackoffDuration_DoublesPerRetry(t *testing.T) {
	cases := []struct {
		retryCount int
		want       int64
	}{
		{0, 60}, {1, 120}, {2, 240}, {3, 480},
	}
	for _, c := range cases {
		got := BackoffDuration(60, c.retryCount)
		if got.Seconds() != float64(c.want) {
			t.Errorf("BackoffDuration(60, %d) = %v, want %ds", c.retryCount, got, c.want)
		}
	}
}
