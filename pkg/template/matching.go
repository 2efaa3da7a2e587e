package template

import "github.com/colliery-io/brokkr-sub000/pkg/labeling"

// CompatibilityResult is the outcome of checking whether a template may be
// instantiated into a stack (§4.4).
type CompatibilityResult struct {
	Compatible         bool
	MissingLabels      []string
	MissingAnnotations []labeling.Annotation
}

// CheckCompatibility implements the §4.4 / §8.7 compatibility law:
// instantiation is allowed iff the template's labels and annotations are
// both empty (matches any stack), or every template label is a subset of
// the stack's labels and every template annotation (key, value) appears on
// the stack.
func CheckCompatibility(templateLabels []string, templateAnnotations []labeling.Annotation, stackLabels []string, stackAnnotations []labeling.Annotation) CompatibilityResult {
	result := labeling.ContainsAll(templateLabels, templateAnnotations, stackLabels, stackAnnotations)
	return CompatibilityResult{
		Compatible:         result.Matches,
		MissingLabels:      result.MissingLabels,
		MissingAnnotations: result.MissingAnnotations,
	}
}
