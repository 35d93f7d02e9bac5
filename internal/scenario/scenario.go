// Package scenario runs access-control scenarios, each against its own
// freshly built environment, and reports the outcome of every one.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dotcap/internal/auth"
	"dotcap/internal/harness"
	"dotcap/internal/verify"
)

// Procedure is the body of a scenario. It runs after a successful setup;
// teardown is handled by the runner.
type Procedure func(ctx context.Context, s *Scenario) error

// Scenario is what a procedure works with: the environment, a driver to
// log hosts on and off and a verifier to check connectivity.
type Scenario struct {
	Name   string
	Env    *harness.Environment
	Auth   *auth.Driver
	Verify *verify.Verifier

	// ExternalTarget is probed to tell whether a host is let out.
	ExternalTarget string
	LogoffSettle   time.Duration

	log *slog.Logger
}

// Users returns the names of the user hosts in ordinal order.
func (s *Scenario) Users() []string {
	var names []string
	for _, u := range s.Env.Topology().Users() {
		names = append(names, u.Name)
	}
	return names
}

// requireUsers returns the first n user hosts, or an error if there are
// fewer.
func (s *Scenario) requireUsers(n int) ([]string, error) {
	users := s.Users()
	if len(users) < n {
		return nil, fmt.Errorf("scenario %s needs %d users, topology has %d", s.Name, n, len(users))
	}
	return users[:n], nil
}

// tolerate drops host command failures. The environment has logged them
// and the connectivity checks that follow decide the outcome.
func (s *Scenario) tolerate(err error) error {
	var cerr *harness.CommandError
	if errors.As(err, &cerr) {
		s.log.Warn("continuing after failed command", "host", cerr.Host, "command", cerr.Command)
		return nil
	}
	return err
}

func (s *Scenario) login(ctx context.Context, host string, method auth.Method) error {
	return s.tolerate(s.Auth.Login(ctx, host, method))
}

func (s *Scenario) logout(ctx context.Context, host string, method auth.Method) error {
	return s.tolerate(s.Auth.Logout(ctx, host, method))
}

func (s *Scenario) acquire(ctx context.Context, host string) error {
	return s.tolerate(s.Auth.Acquire(ctx, host))
}
