package auth

import (
	"errors"
	"fmt"
)

// State is where a user host is in the authentication lifecycle.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	LoggedOff
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case LoggedOff:
		return "logged-off"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError reports a transition the lifecycle does not allow.
type TransitionError struct {
	Host string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("host %s: %s -> %s: %v", e.Host, e.From, e.To, ErrIllegalTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// next lists the only state each state may move to. LoggedOff is
// terminal.
var next = map[State]State{
	Unauthenticated: Authenticating,
	Authenticating:  Authenticated,
	Authenticated:   LoggedOff,
}

// Machine tracks the state of each host. Hosts it has not seen are
// Unauthenticated.
type Machine struct {
	states map[string]State
}

func NewMachine() *Machine {
	return &Machine{states: map[string]State{}}
}

func (m *Machine) State(host string) State {
	return m.states[host]
}

// Check returns an error if host may not move to the state to.
func (m *Machine) Check(host string, to State) error {
	from := m.states[host]
	if n, ok := next[from]; !ok || n != to {
		return &TransitionError{Host: host, From: from, To: to}
	}
	return nil
}

func (m *Machine) Transition(host string, to State) error {
	if err := m.Check(host, to); err != nil {
		return err
	}
	m.states[host] = to
	return nil
}
