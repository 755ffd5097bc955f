package journal

import "fmt"

// State is the lifecycle state of a journal.
type State string

const (
	Posted   State = "posted"
	Reversed State = "reversed"
)

var transitions = map[State][]State{
	Posted:   {Reversed},
	Reversed: nil,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a journal in state from may move to state to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates the move and returns ErrInvalidTransition when it is not allowed.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
