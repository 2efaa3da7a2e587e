package template

import (
	"testing"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

func TestCheckCompatibility_EmptyTemplateMatchesAnyStack(t *testing.T) {
	result := CheckCompatibility(nil, nil, []string{"env=staging"}, nil)
	if !result.Compatible {
		t.Fatal("a template with no labels/annotations must match any stack")
	}
}

func TestCheckCompatibility_LabelsSubsetMatches(t *testing.T) {
	result := CheckCompatibility([]string{"env=prod"}, nil, []string{"env=prod", "tier=web"}, nil)
	if !result.Compatible {
		t.Fatal("template labels that are a subset of the stack's must match")
	}
}

func TestCheckCompatibility_MissingLabelFails(t *testing.T) {
	result := CheckCompatibility([]string{"env=prod"}, nil, []string{"env=staging"}, nil)
	if result.Compatible {
		t.Fatal("expected mismatch per scenario D")
	}
	if len(result.MissingLabels) != 1 || result.MissingLabels[0] != "env=prod" {
		t.Errorf("MissingLabels = %v, want [env=prod]", result.MissingLabels)
	}
}

func TestCheckCompatibility_AnnotationMustMatchExactly(t *testing.T) {
	required := []labeling.Annotation{{Key: "region", Value: "us-east"}}
	result := CheckCompatibility(nil, required, nil, []labeling.Annotation{{Key: "region", Value: "us-west"}})
	if result.Compatible {
		t.Fatal("annotation value mismatch must not be compatible")
	}
	if len(result.MissingAnnotations) != 1 {
		t.Errorf("MissingAnnotations = %v, want 1 entry", result.MissingAnnotations)
	}
}
