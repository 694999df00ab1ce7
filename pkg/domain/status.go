package domain

// RunStatus is the orchestrator-neutral status of a triggered run
type RunStatus string

const (
	StatusPending    RunStatus = "Pending"
	StatusRunning    RunStatus = "Running"
	StatusSucceeded  RunStatus = "Succeeded"
	StatusFailed     RunStatus = "Failed"
	StatusTerminated RunStatus = "Terminated"
	StatusUnknown    RunStatus = "Unknown"
)

// Phase is the tri-state view of a RunStatus used by pollers
type Phase int

const (
	PhaseUnknown Phase = iota
	PhasePending
	PhaseRunning
	PhaseTerminal
)

// Phase classifies the status
func (s RunStatus) Phase() Phase {
	switch s {
	case StatusPending:
		return PhasePending
	case StatusRunning:
		return PhaseRunning
	case StatusSucceeded, StatusFailed, StatusTerminated:
		return PhaseTerminal
	default:
		return PhaseUnknown
	}
}

// IsActive reports whether the run has not finished yet
func (s RunStatus) IsActive() bool {
	p := s.Phase()
	return p == PhasePending || p == PhaseRunning
}

// IsTerminal reports whether the run reached a final state
func (s RunStatus) IsTerminal() bool {
	return s.Phase() == PhaseTerminal
}

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
