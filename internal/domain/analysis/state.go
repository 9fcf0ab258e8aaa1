package analysis

// State enum. Transitions are monotonic forward; the *_FAILED states are
// retry entry points back into the step that produced them.
type State string

const (
	StateConfigured    State = "CONFIGURED"
	StateStaticRunning State = "STATIC_RUNNING"
	StateStaticDone    State = "STATIC_DONE"
	StateStaticFailed  State = "STATIC_FAILED"
	StateAIRunning     State = "AI_RUNNING"
	StateAIDone        State = "AI_DONE"
	StateAIFailed      State = "AI_FAILED"
	StateModified      State = "MODIFIED"
	StateReportRunning State = "REPORT_RUNNING"
	StateReportDone    State = "REPORT_DONE"
	StateReportFailed  State = "REPORT_FAILED"
)

var staticEntry = map[State]bool{
	StateConfigured:   true,
	StateStaticFailed: true,
}

var aiEntry = map[State]bool{
	StateStaticDone: true,
	StateAIFailed:   true,
	StateModified:   true,
}

var modifyEntry = map[State]bool{
	StateStaticDone: true,
	StateAIDone:     true,
	StateModified:   true,
}

// reportEntry includes REPORT_DONE: calling generateReport again is the
// explicit regenerate path and appends a new artifact version.
var reportEntry = map[State]bool{
	StateStaticDone:   true,
	StateAIDone:       true,
	StateModified:     true,
	StateReportFailed: true,
	StateReportDone:   true,
}

func (s State) CanRunStatic() bool { return staticEntry[s] }
func (s State) CanRunAI() bool     { return aiEntry[s] }
func (s State) CanModify() bool    { return modifyEntry[s] }
func (s State) CanRunReport() bool { return reportEntry[s] }

// Failed reports whether s is one of the retryable failure states.
func (s State) Failed() bool {
	return s == StateStaticFailed || s == StateAIFailed || s == StateReportFailed
}
