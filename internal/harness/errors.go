package harness

import (
	"errors"
	"fmt"
)

// ErrAlreadyBuilt is returned by Setup when the environment is already
// set up.
var ErrAlreadyBuilt = errors.New("environment already set up")

// BuildError reports a failure while setting up the environment. The
// scenario fails but teardown still runs.
type BuildError struct {
	Step string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("setup failed at %s: %v", e.Step, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// AssertionError reports a connectivity expectation that did not hold.
type AssertionError struct {
	Check    string
	Expected string
	Observed string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, observed %s", e.Check, e.Expected, e.Observed)
}

// CommandError reports a host command that failed. Callers decide whether
// it is fatal.
type CommandError struct {
	Host    string
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q on %s: %v", e.Command, e.Host, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Kind classifies err for reporting: "build", "assertion", "command" or
// "error".
func Kind(err error) string {
	var (
		buildErr     *BuildError
		assertionErr *AssertionError
		commandErr   *CommandError
	)
	switch {
	case errors.As(err, &buildErr):
		return "build"
	case errors.As(err, &assertionErr):
		return "assertion"
	case errors.As(err, &commandErr):
		return "command"
	default:
		return "error"
	}
}
