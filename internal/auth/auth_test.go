package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	Host    string
	Command string
}

type fakeExecutor struct {
	calls []execCall
	fail  map[string]error
}

func (f *fakeExecutor) Exec(ctx context.Context, host, command string) (string, error) {
	f.calls = append(f.calls, execCall{Host: host, Command: command})
	return "", f.fail[command]
}

func newTestDriver(exec Executor) *Driver {
	return NewDriver(exec, Options{
		ScriptsDir:  "/opt/dotcap/scripts",
		Dot1xSettle: time.Millisecond,
		Logger:      slog.New(slog.DiscardHandler),
	})
}

func TestLoginDot1x(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDriver(exec)

	require.NoError(t, d.Login(context.Background(), "h0", Dot1x))

	want := []execCall{
		{"h0", "/opt/dotcap/scripts/h0_wpa.sh"},
		{"h0", "ip addr flush h0-eth0 && dhclient h0-eth0"},
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Authenticated, d.State("h0"))
}

func TestLoginCapFlow(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDriver(exec)

	require.NoError(t, d.Login(context.Background(), "h1", CapFlow))

	want := []execCall{
		{"h1", "ip addr flush h1-eth0 && dhclient h1-eth0"},
		{"h1", "lynx -cmd_script=/opt/dotcap/scripts/h1_lynx"},
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Authenticated, d.State("h1"))
}

func TestLoginFailureLeavesAuthenticating(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]error{
		"/opt/dotcap/scripts/h0_wpa.sh": errors.New("exit status 255"),
	}}
	d := newTestDriver(exec)

	err := d.Login(context.Background(), "h0", Dot1x)
	assert.ErrorContains(t, err, "login h0 with dot1x")
	assert.Equal(t, Authenticating, d.State("h0"))
	assert.Len(t, exec.calls, 1)

	err = d.Login(context.Background(), "h0", Dot1x)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestLoginHonoursCancellation(t *testing.T) {
	exec := &fakeExecutor{}
	d := NewDriver(exec, Options{Dot1xSettle: time.Hour, Logger: slog.New(slog.DiscardHandler)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Login(ctx, "h0", Dot1x)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exec.calls, 1)
}

func TestLogout(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDriver(exec)
	ctx := context.Background()

	require.NoError(t, d.Login(ctx, "h0", Dot1x))
	require.NoError(t, d.Login(ctx, "h1", CapFlow))
	exec.calls = nil

	require.NoError(t, d.Logout(ctx, "h0", Dot1x))
	require.NoError(t, d.Logout(ctx, "h1", CapFlow))

	want := []execCall{
		{"h0", "wpa_cli logoff"},
		{"h1", "timeout 10s curl http://10.0.12.3/loggedout"},
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, LoggedOff, d.State("h0"))
	assert.Equal(t, LoggedOff, d.State("h1"))

	// Re-authentication is not supported.
	assert.ErrorIs(t, d.Login(ctx, "h0", Dot1x), ErrIllegalTransition)
}

func TestLogoutRequiresLogin(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDriver(exec)

	err := d.Logout(context.Background(), "h2", Dot1x)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Unauthenticated, terr.From)
	assert.Equal(t, LoggedOff, terr.To)
	assert.Empty(t, exec.calls)
}

func TestAcquireKeepsState(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDriver(exec)

	require.NoError(t, d.Acquire(context.Background(), "h2"))
	assert.Equal(t, Unauthenticated, d.State("h2"))
	assert.Equal(t, []execCall{{"h2", "ip addr flush h2-eth0 && dhclient h2-eth0"}}, exec.calls)
}

func TestMachine(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Unauthenticated, m.State("h0"))

	assert.ErrorIs(t, m.Transition("h0", Authenticated), ErrIllegalTransition)
	require.NoError(t, m.Transition("h0", Authenticating))
	assert.ErrorIs(t, m.Transition("h0", LoggedOff), ErrIllegalTransition)
	require.NoError(t, m.Transition("h0", Authenticated))
	require.NoError(t, m.Transition("h0", LoggedOff))

	for _, to := range []State{Unauthenticated, Authenticating, Authenticated, LoggedOff} {
		assert.ErrorIs(t, m.Check("h0", to), ErrIllegalTransition, to.String())
	}
	assert.Equal(t, Unauthenticated, m.State("h1"))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("capflow")
	require.NoError(t, err)
	assert.Equal(t, CapFlow, m)

	_, err = ParseMethod("radius")
	assert.Error(t, err)
}
