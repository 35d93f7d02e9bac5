package emulator

import (
	"fmt"
	"runtime"
	"time"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

const (
	// NETNS_DIR is where iproute2 and netns.NewNamed keep named namespaces.
	NETNS_DIR = "/var/run/netns"
	nsPrefix  = "dotcap-"
)

// Namespace is a named network namespace holding one emulated host.
type Namespace struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

func namespaceName(host string) string {
	return nsPrefix + host
}

// createNamespace creates a named namespace without moving the calling
// thread into it.
func createNamespace(name string) (*Namespace, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("get current netns: %w", err)
	}
	defer origNS.Close()

	// NewNamed leaves the thread inside the new namespace.
	ns, err := netns.NewNamed(name)
	if err != nil {
		netns.Set(origNS)
		return nil, fmt.Errorf("create netns %s: %w", name, err)
	}
	ns.Close()

	if err := netns.Set(origNS); err != nil {
		return nil, fmt.Errorf("setns back: %w", err)
	}

	return &Namespace{
		Name:      name,
		Path:      NETNS_DIR + "/" + name,
		CreatedAt: time.Now().Format(time.RFC3339),
	}, nil
}

// Do runs fn on a locked OS thread switched into the namespace. Sockets
// and child processes created by fn belong to the namespace.
func (ns *Namespace) Do(fn func() error) error {
	runtime.LockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("get current netns: %w", err)
	}
	defer origNS.Close()

	targetNS, err := netns.GetFromPath(ns.Path)
	if err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("open netns %s: %w", ns.Name, err)
	}
	defer targetNS.Close()

	if err := netns.Set(targetNS); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("setns %s: %w", ns.Name, err)
	}

	fnErr := fn()

	if err := netns.Set(origNS); err != nil {
		// The thread stays locked so the runtime retires it with the
		// goroutine instead of reusing a thread in the wrong namespace.
		return fmt.Errorf("setns back from %s: %w", ns.Name, err)
	}
	runtime.UnlockOSThread()

	return fnErr
}

// Handle returns a netlink handle bound to the namespace.
func (ns *Namespace) Handle() (*netlink.Handle, error) {
	nsHandle, err := netns.GetFromPath(ns.Path)
	if err != nil {
		return nil, fmt.Errorf("open netns %s: %w", ns.Name, err)
	}
	defer nsHandle.Close()

	h, err := netlink.NewHandleAt(nsHandle)
	if err != nil {
		return nil, fmt.Errorf("netlink handle in %s: %w", ns.Name, err)
	}
	return h, nil
}

// Delete removes the named namespace.
func (ns *Namespace) Delete() error {
	if err := netns.DeleteNamed(ns.Name); err != nil {
		return fmt.Errorf("delete netns %s: %w", ns.Name, err)
	}
	return nil
}
