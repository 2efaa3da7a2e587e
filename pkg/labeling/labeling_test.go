package labeling

import "testing"

func TestContainsAll_EmptyRequiredMatchesAnyTarget(t *testing.T) {
	result := ContainsAll(nil, nil, []string{"env:prod"}, []Annotation{{Key: "region", Value: "us-east"}})
	if !result.Matches {
		t.Fatal("empty required labels/annotations must match any target")
	}
}

func TestContainsAll_LabelsSubsetOfTargetMatches(t *testing.T) {
	result := ContainsAll([]string{"env:prod"}, nil, []string{"env:prod", "tier:web"}, nil)
	if !result.Matches {
		t.Fatal("subset of target labels must match")
	}
}

func TestContainsAll_LabelsExactMatch(t *testing.T) {
	result := ContainsAll([]string{"env:prod", "tier:web"}, nil, []string{"env:prod", "tier:web"}, nil)
	if !result.Matches {
		t.Fatal("exact label match must match")
	}
}

func TestContainsAll_MissingLabelFails(t *testing.T) {
	result := ContainsAll([]string{"env:prod"}, nil, []string{"tier:web"}, nil)
	if result.Matches {
		t.Fatal("required label absent from target must not match")
	}
	if len(result.MissingLabels) != 1 || result.MissingLabels[0] != "env:prod" {
		t.Errorf("MissingLabels = %v, want [env:prod]", result.MissingLabels)
	}
}

func TestContainsAll_MultipleMissingLabels(t *testing.T) {
	result := ContainsAll([]string{"env:prod", "tier:web", "region:us"}, nil, []string{"tier:web"}, nil)
	if result.Matches {
		t.Fatal("expected mismatch")
	}
	if len(result.MissingLabels) != 2 {
		t.Errorf("MissingLabels = %v, want 2 entries", result.MissingLabels)
	}
}

func TestContainsAll_AnnotationExactMatch(t *testing.T) {
	required := []Annotation{{Key: "region", Value: "us-east"}}
	target := []Annotation{{Key: "region", Value: "us-east"}, {Key: "cluster", Value: "a"}}
	result := ContainsAll(nil, required, nil, target)
	if !result.Matches {
		t.Fatal("annotation subset must match")
	}
}

func TestContainsAll_AnnotationValueMismatchFails(t *testing.T) {
	required := []Annotation{{Key: "region", Value: "us-east"}}
	target := []Annotation{{Key: "region", Value: "us-west"}}
	result := ContainsAll(nil, required, nil, target)
	if result.Matches {
		t.Fatal("value mismatch on matching key must not match")
	}
	if len(result.MissingAnnotations) != 1 {
		t.Errorf("MissingAnnotations = %v, want 1 entry", result.MissingAnnotations)
	}
}

func TestContainsAll_LabelsMatchButAnnotationsDontFails(t *testing.T) {
	result := ContainsAll(
		[]string{"env:prod"},
		[]Annotation{{Key: "region", Value: "us-east"}},
		[]string{"env:prod"},
		[]Annotation{{Key: "region", Value: "us-west"}},
	)
	if result.Matches {
		t.Fatal("labels matching does not excuse a failed annotation requirement")
	}
}

func TestAnyLabelMatches(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want bool
	}{
		{"shared label", []string{"env:prod", "tier:web"}, []string{"tier:web"}, true},
		{"no overlap", []string{"env:prod"}, []string{"env:staging"}, false},
		{"both empty", nil, nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := AnyLabelMatches(c.a, c.b); got != c.want {
				t.Errorf("AnyLabelMatches(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestAnyAnnotationMatches(t *testing.T) {
	a := []Annotation{{Key: "region", Value: "us-east"}}
	b := []Annotation{{Key: "region", Value: "us-east"}, {Key: "cluster", Value: "a"}}
	if !AnyAnnotationMatches(a, b) {
		t.Fatal("expected shared annotation to match")
	}

	c := []Annotation{{Key: "region", Value: "us-west"}}
	if AnyAnnotationMatches(a, c) {
		t.Fatal("differing value for same key must not match")
	}
}

func TestValidateLabel(t *testing.T) {
	if err := ValidateLabel(""); err == nil {
		t.Error("empty label should be rejected")
	}
	if err := ValidateLabel("env prod"); err == nil {
		t.Error("label with whitespace should be rejected")
	}
	if err := ValidateLabel("env:prod"); err != nil {
		t.Errorf("valid label rejected: %v", err)
	}
}

func TestValidateAnnotation(t *testing.T) {
	if err := ValidateAnnotation(Annotation{Key: "", Value: "x"}); err == nil {
		t.Error("empty key should be rejected")
	}
	if err := ValidateAnnotation(Annotation{Key: "region", Value: ""}); err == nil {
		t.Error("empty value should be rejected")
	}
	if err := ValidateAnnotation(Annotation{Key: "region", Value: "us-east"}); err != nil {
		t.Errorf("valid annotation rejected: %v", err)
	}
}
