package activity

// Termination classifies how an agent stream ended.
type Termination int

const (
	TerminationNormal Termination = iota
	// TerminationPlanExit is the process exit that follows an approved
	// ExitPlanMode call. It is expected and must not be reported as a crash.
	TerminationPlanExit
	TerminationFailure
)

const exitPlanModeTool = "ExitPlanMode"

func (t Termination) String() string {
	switch t {
	case TerminationNormal:
		return "normal"
	case TerminationPlanExit:
		return "plan_exit"
	case TerminationFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// ClassifyTermination decides whether err is a real failure. The only
// signal used is the tool whose completion was the most recent activity
// before the error; the error text is not inspected.
//
// This correlation is by recency only: a genuine crash that happens right
// after ExitPlanMode completes is misclassified as a plan exit.
func ClassifyTermination(lastCompletedTool string, err error) Termination {
	switch {
	case err == nil:
		return TerminationNormal
	case lastCompletedTool == exitPlanModeTool:
		return TerminationPlanExit
	default:
		return TerminationFailure
	}
}
