// Package harness owns the per-scenario environment: the emulated network,
// the controllers and the bridged physical interface.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dotcap/internal/controller"
	"dotcap/internal/topology"
)

// Network is the emulator the environment builds the topology in.
type Network interface {
	Build(ctx context.Context, t *topology.Topology) error
	AttachInterface(ctx context.Context, ifname, sw string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Exec(ctx context.Context, host, command string) (string, error)
	IP(ctx context.Context, host string) (string, error)
	AddRoute(ctx context.Context, host, dst, ifname string) error
	Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error)
	WaitLearned(ctx context.Context, host string) error
}

const (
	DefaultBridgeInterface = "eth1"
	DefaultListenTimeout   = 10 * time.Second

	// UserRoute is routed out of the first interface of the portal and the
	// controller host so replies cross between the in-band and out-of-band
	// halves of the network.
	UserRoute = "10.0.0.0/8"
)

type Options struct {
	Spec topology.Spec
	// BridgeInterface is the physical interface attached to s1. Empty
	// skips the attachment.
	BridgeInterface string
	ListenTimeout   time.Duration
	Logger          *slog.Logger
}

// Environment is the scoped owner of everything one scenario runs against.
// Setup and Teardown are each effective once per build.
type Environment struct {
	net   Network
	ctrl  controller.Runtime
	opts  Options
	log   *slog.Logger
	topo  *topology.Topology
	setup bool
	built bool

	checkListening func(ctx context.Context, c topology.Controller, interval time.Duration) error
}

func NewEnvironment(net Network, ctrl controller.Runtime, opts Options) *Environment {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ListenTimeout == 0 {
		opts.ListenTimeout = DefaultListenTimeout
	}
	return &Environment{
		net:  net,
		ctrl: ctrl,
		opts: opts,
		log:  opts.Logger,

		checkListening: controller.CheckListening,
	}
}

// Topology returns the topology of the current build, or nil.
func (e *Environment) Topology() *topology.Topology {
	return e.topo
}

// Setup declares the topology, builds it, bridges the physical interface,
// starts the controllers and switches and bootstraps the portal and
// controller hosts. On failure the environment is left for Teardown.
func (e *Environment) Setup(ctx context.Context) error {
	if e.setup {
		return ErrAlreadyBuilt
	}
	e.setup = true

	topo, err := topology.Build(e.opts.Spec)
	if err != nil {
		return &BuildError{Step: "declare topology", Err: err}
	}
	e.topo = topo

	if err := e.net.Build(ctx, topo); err != nil {
		return &BuildError{Step: "build network", Err: err}
	}
	e.built = true

	for _, u := range topo.Users() {
		if u.Credentials == nil {
			continue
		}
		cmd := fmt.Sprintf("./copyconfigs.sh %s %s", u.Credentials.User, u.Credentials.Password)
		if _, err := e.Exec(ctx, u.Name, cmd); err != nil {
			return &BuildError{Step: "copy configs", Err: err}
		}
	}

	if ifname := e.opts.BridgeInterface; ifname != "" {
		sw := topo.Switches[0].Name
		if err := e.net.AttachInterface(ctx, ifname, sw); err != nil {
			return &BuildError{Step: "attach " + ifname, Err: err}
		}
	}

	if err := e.ctrl.Start(ctx); err != nil {
		return &BuildError{Step: "start controllers", Err: err}
	}
	if err := e.net.Start(ctx); err != nil {
		return &BuildError{Step: "start switches", Err: err}
	}
	e.checkControllers(ctx)

	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	e.log.Info("environment ready", "users", len(topo.Users()))
	return nil
}

// checkControllers warns about controllers that do not accept
// connections. Switches keep retrying, so this is not fatal.
func (e *Environment) checkControllers(ctx context.Context) {
	for _, c := range e.topo.Controllers {
		if c.AssumesListening {
			e.log.Debug("controller liveness skipped", "controller", c.Name)
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, e.opts.ListenTimeout)
		err := e.checkListening(cctx, c, 500*time.Millisecond)
		cancel()
		if err != nil {
			e.log.Warn("unable to contact controller", "controller", c.Name, "addr", c.Addr(), "error", err)
		}
	}
}

func (e *Environment) bootstrap(ctx context.Context) error {
	steps := []struct {
		host    string
		command string
	}{
		{topology.ContrName, "./contr.sh"},
		{topology.PortalName, "./portal.sh"},
	}
	for _, s := range steps {
		if _, err := e.Exec(ctx, s.host, s.command); err != nil {
			return &BuildError{Step: "bootstrap " + s.host, Err: err}
		}
	}

	for _, host := range []string{topology.PortalName, topology.ContrName} {
		h, _ := e.topo.Host(host)
		if err := e.net.AddRoute(ctx, host, UserRoute, h.Intf()); err != nil {
			return &BuildError{Step: "route " + host, Err: err}
		}
	}

	// Left over from an earlier supplicant; usually already gone.
	if _, err := e.Exec(ctx, topology.ContrName, "rm -r /var/run/wpa_supplicant"); err != nil {
		e.log.Debug("ignoring failed cleanup", "error", err)
	}
	return nil
}

// Teardown kills the auxiliary processes, removes the network and stops
// the controllers. Every step is attempted; failures are joined. It is a
// no-op unless Setup was called since the last Teardown.
func (e *Environment) Teardown(ctx context.Context) error {
	if !e.setup {
		return nil
	}

	var errs []error
	if e.built && len(e.topo.Hosts) > 0 {
		if _, err := e.Exec(ctx, e.topo.Hosts[0].Name, "./kill.sh"); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.net.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop network: %w", err))
	}
	if err := e.ctrl.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop controllers: %w", err))
	}

	e.setup = false
	e.built = false
	e.topo = nil
	e.log.Info("environment torn down")
	return errors.Join(errs...)
}

// Exec runs a command on a host. A failure is returned as a
// *CommandError carrying the output.
func (e *Environment) Exec(ctx context.Context, host, command string) (string, error) {
	e.log.Info("host command", "host", host, "command", command)

	out, err := e.net.Exec(ctx, host, command)
	if err != nil {
		cerr := &CommandError{Host: host, Command: command, Output: strings.TrimSpace(out), Err: err}
		e.log.Warn("host command failed", "host", host, "command", command, "error", err, "output", cerr.Output)
		return out, cerr
	}
	return out, nil
}

func (e *Environment) IP(ctx context.Context, host string) (string, error) {
	return e.net.IP(ctx, host)
}

func (e *Environment) Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error) {
	return e.net.Ping(ctx, host, dst, timeout)
}

func (e *Environment) WaitLearned(ctx context.Context, host string) error {
	return e.net.WaitLearned(ctx, host)
}
