package conversation

import "encoding/json"

// ToolDecision answers a tool permission request.
type ToolDecision struct {
	Allow bool
	// Message is shown to the agent on denial.
	Message      string
	UpdatedInput json.RawMessage
}

// PlanDecision answers an ExitPlanMode request.
type PlanDecision struct {
	Approve bool
	// Mode is the permission mode to continue in after approval.
	Mode     string
	Feedback string
}

// Approvals bundles the three approval registries of a process.
type Approvals struct {
	Tools     *Registry[ToolDecision]
	Plans     *Registry[PlanDecision]
	Questions *Registry[string]
}

func NewApprovals() *Approvals {
	return &Approvals{
		Tools:     NewRegistry[ToolDecision]("tools"),
		Plans:     NewRegistry[PlanDecision]("plans"),
		Questions: NewRegistry[string]("questions"),
	}
}

// OnResolved installs fn on all three registries.
func (a *Approvals) OnResolved(fn CleanupFunc) {
	a.Tools.OnResolved(fn)
	a.Plans.OnResolved(fn)
	a.Questions.OnResolved(fn)
}

// AbortConversation aborts every approval pending in key.
func (a *Approvals) AbortConversation(key Key) int {
	return a.Tools.AbortConversation(key) +
		a.Plans.AbortConversation(key) +
		a.Questions.AbortConversation(key)
}

// Counts holds pending approval numbers per registry.
type Counts struct {
	Tools     int `json:"tools"`
	Plans     int `json:"plans"`
	Questions int `json:"questions"`
}

func (a *Approvals) Counts(key Key) Counts {
	return Counts{
		Tools:     a.Tools.Count(key),
		Plans:     a.Plans.Count(key),
		Questions: a.Questions.Count(key),
	}
}
