package lifecycle

import "fmt"

// State is a position in the service lifecycle.
type State int32

const (
	New State = iota
	Built
	Initializing
	Initialized
	Starting
	Started
	Suspending
	Suspended
	Resuming
	Stopping
	Stopped
	ShuttingDown
	Shutdown
	Failed
)

var stateNames = [...]string{
	New:          "New",
	Built:        "Built",
	Initializing: "Initializing",
	Initialized:  "Initialized",
	Starting:     "Starting",
	Started:      "Started",
	Suspending:   "Suspending",
	Suspended:    "Suspended",
	Resuming:     "Resuming",
	Stopping:     "Stopping",
	Stopped:      "Stopped",
	ShuttingDown: "ShuttingDown",
	Shutdown:     "Shutdown",
	Failed:       "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool { return s == Shutdown }

// IsRunAllowed reports whether work may be handed to a service in s.
// Suspended services accept work but may hold it until resumed.
func (s State) IsRunAllowed() bool {
	switch s {
	case Starting, Started, Suspending, Suspended, Resuming:
		return true
	}
	return false
}

// Action names a lifecycle operation.
type Action string

const (
	ActionBuild    Action = "build"
	ActionInit     Action = "init"
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionSuspend  Action = "suspend"
	ActionResume   Action = "resume"
	ActionShutdown Action = "shutdown"
)
