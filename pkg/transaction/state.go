package transaction

import "fmt"

// State is a point in the transaction lifecycle
type State int

const (
	Started State = iota
	Prepared
	Committed
	Verified
	RolledBack
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case Verified:
		return "verified"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no transition leaves s
func (s State) IsTerminal() bool {
	return s == Verified || s == RolledBack
}

var transitions = map[State][]State{
	Started:   {Prepared, RolledBack},
	Prepared:  {Committed, RolledBack},
	Committed: {Verified, RolledBack},
}

// CanTransition reports whether moving from s to next is allowed
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// allow returns a *StateError unless the table permits moving to next
func (tx *Transaction) allow(op string, next State) error {
	if !tx.state.CanTransition(next) {
		return &StateError{Op: op, State: tx.state}
	}
	return nil
}

// transition moves to next through the table
func (tx *Transaction) transition(op string, next State) error {
	if err := tx.allow(op, next); err != nil {
		return err
	}
	tx.logger.Debug().Str("from", tx.state.String()).Str("to", next.String()).Msg("State change")
	tx.state = next
	return nil
}

// StateError reports a method called from a state that does not allow it
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("transaction: %s is not allowed in state %s", e.Op, e.State)
}
