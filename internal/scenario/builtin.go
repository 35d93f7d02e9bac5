package scenario

import (
	"context"

	"dotcap/internal/auth"
	"dotcap/internal/harness"
	"dotcap/internal/verify"
)

type Entry struct {
	Name      string
	Procedure Procedure
}

// Builtin returns the stock scenarios in the order they run.
func Builtin() []Entry {
	return []Entry{
		{"capflow-logoff", logoff(auth.CapFlow)},
		{"capflow-logon", logon(auth.CapFlow)},
		{"dot1x-logoff", logoff(auth.Dot1x)},
		{"dot1x-logon", logon(auth.Dot1x)},
		{"no-logon", noLogon},
		{"some-logged-on/both", someLoggedOn(auth.Dot1x, auth.CapFlow)},
		{"some-logged-on/only-capflow", someLoggedOn(auth.CapFlow, auth.CapFlow)},
		{"some-logged-on/only-dot1x", someLoggedOn(auth.Dot1x, auth.Dot1x)},
	}
}

// logon checks that the first user gets out after logging on.
func logon(method auth.Method) Procedure {
	return func(ctx context.Context, s *Scenario) error {
		users, err := s.requireUsers(1)
		if err != nil {
			return err
		}
		if err := s.login(ctx, users[0], method); err != nil {
			return err
		}
		return s.Verify.ExpectReachable(ctx, users[0], s.ExternalTarget)
	}
}

// logoff checks that the first user gets out after logging on and is cut
// off again after logging off.
func logoff(method auth.Method) Procedure {
	return func(ctx context.Context, s *Scenario) error {
		users, err := s.requireUsers(1)
		if err != nil {
			return err
		}
		h := users[0]

		if err := s.login(ctx, h, method); err != nil {
			return err
		}
		if err := s.Verify.ExpectReachable(ctx, h, s.ExternalTarget); err != nil {
			return err
		}

		if err := s.logout(ctx, h, method); err != nil {
			return err
		}
		// wpa_cli returns before the authenticator has removed the
		// host's flows.
		if method == auth.Dot1x {
			if err := harness.Sleep(ctx, s.LogoffSettle); err != nil {
				return err
			}
		}
		return s.Verify.ExpectUnreachable(ctx, h, s.ExternalTarget, verify.DefaultRetries)
	}
}

// noLogon checks that users who never authenticate cannot reach each
// other.
func noLogon(ctx context.Context, s *Scenario) error {
	users := s.Users()
	for _, u := range users {
		if err := s.acquire(ctx, u); err != nil {
			return err
		}
	}
	return s.Verify.ExpectLossPercent(ctx, users, 100)
}

// someLoggedOn logs the first two users on with the given methods and
// leaves the third unauthenticated. Only the first two may talk.
func someLoggedOn(first, second auth.Method) Procedure {
	return func(ctx context.Context, s *Scenario) error {
		users, err := s.requireUsers(3)
		if err != nil {
			return err
		}
		u0, u1, u2 := users[0], users[1], users[2]

		if err := s.login(ctx, u0, first); err != nil {
			return err
		}
		if err := s.login(ctx, u1, second); err != nil {
			return err
		}
		if err := s.acquire(ctx, u2); err != nil {
			return err
		}

		groups := []struct {
			hosts []string
			loss  float64
		}{
			{[]string{u0, u1}, 0},
			{[]string{u1, u2}, 100},
			{[]string{u0, u2}, 100},
		}
		for _, g := range groups {
			if err := s.Verify.ExpectLossPercent(ctx, g.hosts, g.loss); err != nil {
				return err
			}
		}
		return nil
	}
}
