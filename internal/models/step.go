package models

// Step names one stage of the fixed response workflow.
type Step string

const (
	StepDetection      Step = "detection"
	StepClassification Step = "classification"
	StepNotification   Step = "notification"
	StepContainment    Step = "containment"
	StepInvestigation  Step = "investigation"
	StepResolution     Step = "resolution"
	StepRecovery       Step = "recovery"
	StepDocumentation  Step = "documentation"
)

// StepOrder is the total order every incident follows; no step may be skipped.
var StepOrder = []Step{
	StepDetection,
	StepClassification,
	StepNotification,
	StepContainment,
	StepInvestigation,
	StepResolution,
	StepRecovery,
	StepDocumentation,
}

// StepIndex returns the position of step in StepOrder, or -1 for unknown steps.
func StepIndex(step Step) int {
	for i, s := range StepOrder {
		if s == step {
			return i
		}
	}
	return -1
}
