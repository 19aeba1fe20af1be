// Package engine executes compiled Weave stories as a turn-based state
// machine: a main cursor over passage content, a tunnel call stack, and
// a table of cooperative narrative threads advanced tick by tick.
package engine

import (
	"fmt"

	"github.com/weavelang/weave/pkgs/eval"
)

// State is the engine session's state machine position.
type State int

const (
	Idle State = iota
	AtPassage
	AwaitingChoice
	InTunnel
	ThreadsPending
	Ended
	Errored
)

var stateNames = [...]string{
	"Idle", "AtPassage", "AwaitingChoice", "InTunnel", "ThreadsPending", "Ended", "Errored",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MainThreadID identifies the main cursor in fragments and events. The
// main cursor is not a Thread but shares the same stepping contract.
const MainThreadID = 0

// Fragment is one emitted piece of narrative output. The output buffer
// is an ordered sequence of fragments, drained by Output().
type Fragment struct {
	ThreadID int
	Passage  string
	Text     string
}

// EventKind classifies tick events.
type EventKind string

const (
	EventText            EventKind = "text"
	EventChoicesReady    EventKind = "choices-ready"
	EventThreadSpawned   EventKind = "thread-spawned"
	EventThreadCompleted EventKind = "thread-completed"
	EventEnded           EventKind = "ended"
)

// Event is one occurrence within a tick, in scheduling order.
type Event struct {
	ThreadID int
	Kind     EventKind
	Passage  string
	Text     string
}

// Runtime error kinds. Any runtime error halts the current call and
// transitions the session to Errored; the caller decides whether to
// reset.
const (
	ErrEval           = "EvalError"
	ErrEmptyTunnel    = "EmptyTunnelStack"
	ErrThreadNotFound = "ThreadNotFound"
	ErrUnknownPassage = "UnknownPassage"
	ErrBadChoiceIndex = "BadChoiceIndex"
	ErrBadState       = "BadState"
)

// RuntimeError is a session-level failure carrying enough context
// (passage, thread) to reproduce the authoring mistake.
type RuntimeError struct {
	Kind     string
	Message  string
	Passage  string
	ThreadID int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s in passage %q (thread %d): %s", e.Kind, e.Passage, e.ThreadID, e.Message)
}

// ThreadStatus tracks a thread's lifecycle.
type ThreadStatus int

const (
	ThreadRunning ThreadStatus = iota
	ThreadWaiting
	ThreadCompleted
	ThreadErrored
)

var threadStatusNames = [...]string{"Running", "Waiting", "Completed", "Errored"}

func (s ThreadStatus) String() string { return threadStatusNames[s] }

// Thread is an engine-managed concurrent narrative cursor. Lower
// priority values advance sooner; creation order breaks ties.
type Thread struct {
	ID       int
	Priority int
	Status   ThreadStatus

	seq     int // creation order
	cursor  cursor
	tunnels []cursor
	locals  map[string]eval.Value
}

// PendingChoice is one visible entry of the pending choice set. Index
// is the position within the currently visible set; invisible choices
// are omitted entirely, not disabled.
type PendingChoice struct {
	Index  int
	Label  string
	Target string
	Once   bool
}
