// Package labeling implements the free-form label/annotation tagging shape
// shared by agents, stacks, work orders, and templates, and the matching
// rules used to route entities to one another.
package labeling

import (
	"strings"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
)

// MaxTagLength is the maximum length of a label or an annotation key/value.
const MaxTagLength = 64

// Annotation is a (key, value) tag.
type Annotation struct {
	Key   string
	Value string
}

// ValidateLabel rejects labels over MaxTagLength or containing whitespace.
func ValidateLabel(label string) error {
	if label == "" {
		return brokerr.New(brokerr.KindInvalid, "label cannot be empty")
	}
	if len(label) > MaxTagLength {
		return brokerr.Newf(brokerr.KindInvalid, "label %q exceeds %d characters", label, MaxTagLength)
	}
	if strings.ContainsAny(label, " \t\n\r") {
		return brokerr.Newf(brokerr.KindInvalid, "label %q must not contain whitespace", label)
	}
	return nil
}

// ValidateAnnotation rejects an annotation with an empty, over-length, or
// whitespace-containing key or value.
func ValidateAnnotation(a Annotation) error {
	for _, s := range []string{a.Key, a.Value} {
		if s == "" {
			return brokerr.New(brokerr.KindInvalid, "annotation key and value cannot be empty")
		}
		if len(s) > MaxTagLength {
			return brokerr.Newf(brokerr.KindInvalid, "annotation %q exceeds %d characters", s, MaxTagLength)
		}
		if strings.ContainsAny(s, " \t\n\r") {
			return brokerr.Newf(brokerr.KindInvalid, "annotation %q must not contain whitespace", s)
		}
	}
	return nil
}

// AnyLabelMatches reports whether a and b share at least one label (OR
// semantics), used by work-order and deployment-object eligibility.
func AnyLabelMatches(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, l := range b {
		set[l] = struct{}{}
	}
	for _, l := range a {
		if _, ok := set[l]; ok {
			return true
		}
	}
	return false
}

// AnyAnnotationMatches reports whether a and b share at least one exact
// (key, value) pair.
func AnyAnnotationMatches(a, b []Annotation) bool {
	set := make(map[Annotation]struct{}, len(b))
	for _, ann := range b {
		set[ann] = struct{}{}
	}
	for _, ann := range a {
		if _, ok := set[ann]; ok {
			return true
		}
	}
	return false
}

// MatchResult is the outcome of a subset-containment match (e.g. template
// labels required to be a subset of a stack's labels).
type MatchResult struct {
	Matches            bool
	MissingLabels      []string
	MissingAnnotations []Annotation
}

// ContainsAll checks that required's labels/annotations are both empty
// (permissive: matches any target), or that every required label and
// annotation exists in the target set.
func ContainsAll(requiredLabels []string, requiredAnnotations []Annotation, targetLabels []string, targetAnnotations []Annotation) MatchResult {
	if len(requiredLabels) == 0 && len(requiredAnnotations) == 0 {
		return MatchResult{Matches: true}
	}

	labelSet := make(map[string]struct{}, len(targetLabels))
	for _, l := range targetLabels {
		labelSet[l] = struct{}{}
	}
	annSet := make(map[Annotation]struct{}, len(targetAnnotations))
	for _, a := range targetAnnotations {
		annSet[a] = struct{}{}
	}

	var missingLabels []string
	for _, l := range requiredLabels {
		if _, ok := labelSet[l]; !ok {
			missingLabels = append(missingLabels, l)
		}
	}
	var missingAnnotations []Annotation
	for _, a := range requiredAnnotations {
		if _, ok := annSet[a]; !ok {
			missingAnnotations = append(missingAnnotations, a)
		}
	}

	return MatchResult{
		Matches:            len(missingLabels) == 0 && len(missingAnnotations) == 0,
		MissingLabels:      missingLabels,
		MissingAnnotations: missingAnnotations,
	}
}
