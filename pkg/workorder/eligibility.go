package workorder

import "github.com/colliery-io/brokkr-sub000/pkg/labeling"

// Eligible reports whether an agent may claim a work order, per §4.2: an
// explicit (work order, agent) target is sufficient on its own, otherwise
// the agent must share at least one label or one exact annotation with the
// work order (OR semantics, same law as agent/stack eligibility).
func Eligible(explicitlyTargeted bool, workOrderLabels, agentLabels []string, workOrderAnnotations, agentAnnotations []labeling.Annotation) bool {
	if explicitlyTargeted {
		return true
	}
	if labeling.AnyLabelMatches(workOrderLabels, agentLabels) {
		return true
	}
	return labeling.AnyAnnotationMatches(workOrderAnnotations, agentAnnotations)
}
