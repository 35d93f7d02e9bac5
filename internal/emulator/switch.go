package emulator

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/vishvananda/netlink"

	"dotcap/internal/topology"
)

// datapath is the forwarding element behind an emulated switch.
type datapath interface {
	Create(ctx context.Context) error
	AddPort(ctx context.Context, ifname string) error
	// Start binds the switch to its controller. Kernel bridges ignore it.
	Start(ctx context.Context, c topology.Controller) error
	// Learned reports whether frames from mac have been seen.
	Learned(ctx context.Context, mac string) (bool, error)
	Delete(ctx context.Context) error
}

func newDatapath(sw topology.Switch, run runner) (datapath, error) {
	switch sw.Datapath {
	case topology.DatapathOVS, "":
		return &ovsSwitch{sw: sw, run: run}, nil
	case topology.DatapathBridge:
		return &kernelBridge{name: sw.Name}, nil
	default:
		return nil, fmt.Errorf("unknown datapath: %s", sw.Datapath)
	}
}

// ovsSwitch drives an Open vSwitch bridge through ovs-vsctl and ovs-ofctl.
type ovsSwitch struct {
	sw  topology.Switch
	run runner
}

// datapathID derives the 16 hex digit dpid from the switch ordinal, so s1
// is dpid 1.
func datapathID(name string) (string, error) {
	n, err := topology.SwitchOrdinal(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", n+1), nil
}

func (s *ovsSwitch) Create(ctx context.Context) error {
	dpid, err := datapathID(s.sw.Name)
	if err != nil {
		return err
	}

	args := []string{
		"--", "add-br", s.sw.Name,
		"--", "set", "bridge", s.sw.Name,
		"fail-mode=secure",
		"other-config:datapath-id=" + dpid,
	}
	if len(s.sw.Protocols) > 0 {
		args = append(args, "protocols="+strings.Join(s.sw.Protocols, ","))
	}
	if !s.sw.Inband {
		args = append(args, "other-config:disable-in-band=true")
	}

	if _, err := s.run.Run(ctx, "ovs-vsctl", args...); err != nil {
		return fmt.Errorf("create ovs bridge %s: %w", s.sw.Name, err)
	}
	return nil
}

func (s *ovsSwitch) AddPort(ctx context.Context, ifname string) error {
	if _, err := s.run.Run(ctx, "ovs-vsctl", "add-port", s.sw.Name, ifname); err != nil {
		return fmt.Errorf("add port %s to %s: %w", ifname, s.sw.Name, err)
	}
	return nil
}

func (s *ovsSwitch) Start(ctx context.Context, c topology.Controller) error {
	if _, err := s.run.Run(ctx, "ovs-vsctl", "set-controller", s.sw.Name, c.Addr()); err != nil {
		return fmt.Errorf("set controller of %s: %w", s.sw.Name, err)
	}
	return nil
}

func (s *ovsSwitch) Learned(ctx context.Context, mac string) (bool, error) {
	args := []string{"dump-flows", s.sw.Name}
	if len(s.sw.Protocols) > 0 {
		args = append([]string{"-O", strings.Join(s.sw.Protocols, ",")}, args...)
	}

	out, err := s.run.Run(ctx, "ovs-ofctl", args...)
	if err != nil {
		return false, fmt.Errorf("dump flows of %s: %w", s.sw.Name, err)
	}
	return flowsMatchSource(string(out), mac), nil
}

func (s *ovsSwitch) Delete(ctx context.Context) error {
	if _, err := s.run.Run(ctx, "ovs-vsctl", "--if-exists", "del-br", s.sw.Name); err != nil {
		return fmt.Errorf("delete ovs bridge %s: %w", s.sw.Name, err)
	}
	return nil
}

// flowsMatchSource reports whether a flow dump contains a flow matching
// frames sourced from mac.
func flowsMatchSource(dump, mac string) bool {
	mac = strings.ToLower(mac)
	for _, line := range strings.Split(strings.ToLower(dump), "\n") {
		if strings.Contains(line, "dl_src="+mac) || strings.Contains(line, "eth_src="+mac) {
			return true
		}
	}
	return false
}

// kernelBridge is a Linux learning bridge in the root namespace.
type kernelBridge struct {
	name string
}

func (b *kernelBridge) Create(ctx context.Context) error {
	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{
			Name: b.name,
		},
	}
	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("bridge add %s: %w", b.name, err)
	}

	link, err := netlink.LinkByName(b.name)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", b.name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bridge up %s: %w", b.name, err)
	}
	return nil
}

func (b *kernelBridge) AddPort(ctx context.Context, ifname string) error {
	brLink, err := netlink.LinkByName(b.name)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", b.name, err)
	}

	ifLink, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", ifname, err)
	}

	if err := netlink.LinkSetMaster(ifLink, brLink); err != nil {
		return fmt.Errorf("set master of %s: %w", ifname, err)
	}
	if err := netlink.LinkSetUp(ifLink); err != nil {
		return fmt.Errorf("set %s up: %w", ifname, err)
	}
	return nil
}

func (b *kernelBridge) Start(ctx context.Context, c topology.Controller) error {
	return nil
}

func (b *kernelBridge) Learned(ctx context.Context, mac string) (bool, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return false, fmt.Errorf("parse mac %s: %w", mac, err)
	}

	brLink, err := netlink.LinkByName(b.name)
	if err != nil {
		return false, fmt.Errorf("lookup bridge %s: %w", b.name, err)
	}

	neighs, err := netlink.NeighList(0, syscall.AF_BRIDGE)
	if err != nil {
		return false, fmt.Errorf("list fdb: %w", err)
	}
	for _, n := range neighs {
		if n.MasterIndex == brLink.Attrs().Index && n.HardwareAddr.String() == hw.String() {
			return true, nil
		}
	}
	return false, nil
}

func (b *kernelBridge) Delete(ctx context.Context) error {
	return deleteLink(b.name)
}
