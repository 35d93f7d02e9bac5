// Package harnesstest provides in-memory stand-ins for the emulated network
// and the controller runtime.
package harnesstest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dotcap/internal/topology"
)

var ErrAlreadyBuilt = errors.New("fake network already built")

// Network records every call made to it. Behaviour is scripted through
// the exported hooks; unset hooks succeed and pings fail.
type Network struct {
	Calls []string
	Topo  *topology.Topology
	// IPs overrides the address reported for a host. Hosts not listed
	// report their declared address.
	IPs map[string]string

	BuildErr  error
	AttachErr error
	StartErr  error
	StopErr   error
	LearnErr  error

	ExecFunc func(host, command string) (string, error)
	PingFunc func(host, dst string) bool

	built bool
}

func (n *Network) call(format string, args ...any) {
	n.Calls = append(n.Calls, fmt.Sprintf(format, args...))
}

func (n *Network) Build(ctx context.Context, t *topology.Topology) error {
	n.call("build")
	if n.built {
		return ErrAlreadyBuilt
	}
	n.built = true
	n.Topo = t
	return n.BuildErr
}

func (n *Network) AttachInterface(ctx context.Context, ifname, sw string) error {
	n.call("attach %s %s", ifname, sw)
	return n.AttachErr
}

func (n *Network) Start(ctx context.Context) error {
	n.call("start")
	return n.StartErr
}

func (n *Network) Stop(ctx context.Context) error {
	n.call("stop")
	n.built = false
	return n.StopErr
}

func (n *Network) Exec(ctx context.Context, host, command string) (string, error) {
	n.call("exec %s %s", host, command)
	if n.ExecFunc != nil {
		return n.ExecFunc(host, command)
	}
	return "", nil
}

func (n *Network) IP(ctx context.Context, host string) (string, error) {
	n.call("ip %s", host)
	if ip, ok := n.IPs[host]; ok {
		return ip, nil
	}
	if n.Topo == nil {
		return "", nil
	}
	h, ok := n.Topo.Host(host)
	if !ok {
		return "", fmt.Errorf("unknown host: %s", host)
	}
	return h.IP, nil
}

func (n *Network) AddRoute(ctx context.Context, host, dst, ifname string) error {
	n.call("route %s %s %s", host, dst, ifname)
	return nil
}

func (n *Network) Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error) {
	n.call("ping %s %s", host, dst)
	if n.PingFunc != nil {
		return n.PingFunc(host, dst), nil
	}
	return false, nil
}

func (n *Network) WaitLearned(ctx context.Context, host string) error {
	n.call("learn %s", host)
	return n.LearnErr
}

// Count returns how many recorded calls equal call.
func (n *Network) Count(call string) int {
	c := 0
	for _, got := range n.Calls {
		if got == call {
			c++
		}
	}
	return c
}

// Runtime counts controller starts and stops.
type Runtime struct {
	Starts   int
	Stops    int
	StartErr error
}

func (r *Runtime) Start(ctx context.Context) error {
	r.Starts++
	return r.StartErr
}

func (r *Runtime) Stop(ctx context.Context) error {
	r.Stops++
	return nil
}
