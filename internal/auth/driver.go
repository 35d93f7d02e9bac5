// Package auth drives host logins and logouts for 802.1X and the captive
// portal. It issues the commands only; whether a host is really let onto
// the network is for connectivity checks to find out.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"dotcap/internal/harness"
	"dotcap/internal/topology"
)

type Method string

const (
	Dot1x   Method = "dot1x"
	CapFlow Method = "capflow"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Dot1x, CapFlow:
		return m, nil
	default:
		return "", fmt.Errorf("unknown authentication method: %s", s)
	}
}

const (
	DefaultDot1xSettle   = 2 * time.Second
	DefaultLogoutTimeout = 10 * time.Second
)

// Executor runs a shell command on an emulated host.
type Executor interface {
	Exec(ctx context.Context, host, command string) (string, error)
}

type Options struct {
	// ScriptsDir holds the per-host <host>_wpa.sh and <host>_lynx scripts.
	ScriptsDir string
	// PortalIP is where the captive portal serves its logout page.
	PortalIP string
	// Dot1xSettle is the wait between starting the supplicant and
	// requesting an address.
	Dot1xSettle   time.Duration
	LogoutTimeout time.Duration
	Logger        *slog.Logger
}

type Driver struct {
	exec   Executor
	opts   Options
	log    *slog.Logger
	states *Machine
}

func NewDriver(exec Executor, opts Options) *Driver {
	if opts.PortalIP == "" {
		opts.PortalIP = topology.IPOf(topology.PortalIP)
	}
	if opts.LogoutTimeout == 0 {
		opts.LogoutTimeout = DefaultLogoutTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		exec:   exec,
		opts:   opts,
		log:    opts.Logger,
		states: NewMachine(),
	}
}

// State returns the lifecycle state the driver has moved host to.
func (d *Driver) State(host string) State {
	return d.states.State(host)
}

// Login authenticates host with method. A failed command leaves the host
// Authenticating.
func (d *Driver) Login(ctx context.Context, host string, method Method) error {
	if err := d.states.Transition(host, Authenticating); err != nil {
		return err
	}
	d.log.Info("logging on", "host", host, "method", method)

	var err error
	switch method {
	case Dot1x:
		err = d.loginDot1x(ctx, host)
	case CapFlow:
		err = d.loginCapFlow(ctx, host)
	default:
		err = fmt.Errorf("unknown authentication method: %s", method)
	}
	if err != nil {
		return fmt.Errorf("login %s with %s: %w", host, method, err)
	}

	return d.states.Transition(host, Authenticated)
}

// loginDot1x starts the supplicant and, once the authenticator has had
// time to open the port, asks for an address.
func (d *Driver) loginDot1x(ctx context.Context, host string) error {
	script := filepath.Join(d.opts.ScriptsDir, host+"_wpa.sh")
	if _, err := d.exec.Exec(ctx, host, script); err != nil {
		return err
	}
	if err := harness.Sleep(ctx, d.opts.Dot1xSettle); err != nil {
		return err
	}
	return d.Acquire(ctx, host)
}

// loginCapFlow gets an address first, since DHCP is let through before
// authentication, then clicks through the portal.
func (d *Driver) loginCapFlow(ctx context.Context, host string) error {
	if err := d.Acquire(ctx, host); err != nil {
		return err
	}
	script := filepath.Join(d.opts.ScriptsDir, host+"_lynx")
	_, err := d.exec.Exec(ctx, host, "lynx -cmd_script="+script)
	return err
}

// Logout logs host off. It does not wait for the network to react.
func (d *Driver) Logout(ctx context.Context, host string, method Method) error {
	if err := d.states.Check(host, LoggedOff); err != nil {
		return err
	}
	d.log.Info("logging off", "host", host, "method", method)

	var cmd string
	switch method {
	case Dot1x:
		cmd = "wpa_cli logoff"
	case CapFlow:
		// The portal may never answer a host that is already logged out.
		cmd = fmt.Sprintf("timeout %ds curl http://%s/loggedout", int(d.opts.LogoutTimeout.Seconds()), d.opts.PortalIP)
	default:
		return fmt.Errorf("unknown authentication method: %s", method)
	}
	if _, err := d.exec.Exec(ctx, host, cmd); err != nil {
		return fmt.Errorf("logout %s with %s: %w", host, method, err)
	}

	return d.states.Transition(host, LoggedOff)
}

// Acquire flushes the host's address and requests a new one over DHCP.
// The authentication state is unchanged.
func (d *Driver) Acquire(ctx context.Context, host string) error {
	intf := topology.Host{Name: host}.Intf()
	_, err := d.exec.Exec(ctx, host, fmt.Sprintf("ip addr flush %s && dhclient %s", intf, intf))
	return err
}
