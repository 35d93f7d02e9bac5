package topology

import (
	"fmt"
	"strconv"
	"strings"
)

type NodeType string

const (
	NodeHost       NodeType = "host"
	NodeSwitch     NodeType = "switch"
	NodeController NodeType = "controller"
)

// HostRole tags what a host is for. Only user hosts authenticate.
type HostRole string

const (
	RoleUser                HostRole = "user"
	RolePortal              HostRole = "portal"
	RoleControllerColocated HostRole = "controller-colocated"
)

type ControllerRole string

const (
	RolePrimaryAuth     ControllerRole = "primary-auth"
	RoleInbandSecondary ControllerRole = "inband-secondary"
)

// Datapath selects how a switch forwards frames.
type Datapath string

const (
	// DatapathOVS is an Open vSwitch bridge bound to its controller.
	DatapathOVS Datapath = "ovs"
	// DatapathBridge is a kernel learning bridge; controllers are ignored.
	DatapathBridge Datapath = "bridge"
)

type Controller struct {
	Name      string
	IP        string
	Port      int
	OfctlPort int
	Role      ControllerRole
	// AssumesListening skips liveness probing. Set for controllers that
	// are reached through a host rather than a socket the harness owns.
	AssumesListening bool
}

// Addr returns the controller target in ovs-vsctl form.
func (c Controller) Addr() string {
	return fmt.Sprintf("tcp:%s:%d", c.IP, c.Port)
}

type Switch struct {
	Name       string
	Protocols  []string
	Controller int
	Inband     bool
	Datapath   Datapath
}

type Credentials struct {
	User     string
	Password string
}

type Host struct {
	Name        string
	MAC         string
	IP          string
	Role        HostRole
	Ordinal     int
	PrivateDirs []string
	Credentials *Credentials
}

// Intf returns the name of the host's first interface.
func (h Host) Intf() string {
	return h.Name + "-eth0"
}

type Link struct {
	NodeA string
	NodeB string
	IPA   string
	IPB   string
}

// Topology is the declared graph for one scenario. It is not modified
// once Build has returned it.
type Topology struct {
	Controllers []Controller
	Switches    []Switch
	Hosts       []Host
	Links       []Link
}

func NewTopology() *Topology {
	return &Topology{}
}

func (t *Topology) AddController(c Controller) {
	t.Controllers = append(t.Controllers, c)
}

func (t *Topology) AddSwitch(s Switch) {
	t.Switches = append(t.Switches, s)
}

func (t *Topology) AddHost(h Host) {
	t.Hosts = append(t.Hosts, h)
}

func (t *Topology) AddLink(a, b string) {
	t.AddLinkWithIPs(a, b, "", "")
}

func (t *Topology) AddLinkWithIPs(a, b, ipA, ipB string) {
	t.Links = append(t.Links, Link{
		NodeA: a,
		NodeB: b,
		IPA:   ipA,
		IPB:   ipB,
	})
}

// Kind reports the node type for name, or false if no such node exists.
func (t *Topology) Kind(name string) (NodeType, bool) {
	for _, c := range t.Controllers {
		if c.Name == name {
			return NodeController, true
		}
	}
	for _, s := range t.Switches {
		if s.Name == name {
			return NodeSwitch, true
		}
	}
	for _, h := range t.Hosts {
		if h.Name == name {
			return NodeHost, true
		}
	}
	return "", false
}

// Host looks a host up by name.
func (t *Topology) Host(name string) (Host, bool) {
	for _, h := range t.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}

func (t *Topology) Switch(name string) (Switch, bool) {
	for _, s := range t.Switches {
		if s.Name == name {
			return s, true
		}
	}
	return Switch{}, false
}

// HostsByRole returns hosts with the given role in declaration order.
func (t *Topology) HostsByRole(role HostRole) []Host {
	var hosts []Host
	for _, h := range t.Hosts {
		if h.Role == role {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Users returns the user hosts ordered by ordinal.
func (t *Topology) Users() []Host {
	return t.HostsByRole(RoleUser)
}

// ControllerFor returns the controller a switch is bound to.
func (t *Topology) ControllerFor(s Switch) (Controller, error) {
	if s.Controller < 0 || s.Controller >= len(t.Controllers) {
		return Controller{}, fmt.Errorf("switch %s: controller index %d out of range", s.Name, s.Controller)
	}
	return t.Controllers[s.Controller], nil
}

// SwitchFor returns the switch a host's first link lands on.
func (t *Topology) SwitchFor(host string) (Switch, bool) {
	for _, l := range t.Links {
		var peer string
		switch host {
		case l.NodeA:
			peer = l.NodeB
		case l.NodeB:
			peer = l.NodeA
		default:
			continue
		}
		if s, ok := t.Switch(peer); ok {
			return s, true
		}
	}
	return Switch{}, false
}

// Validate checks the structural invariants of the graph.
func (t *Topology) Validate() error {
	seen := map[string]bool{}
	names := make([]string, 0, len(t.Controllers)+len(t.Switches)+len(t.Hosts))
	for _, c := range t.Controllers {
		names = append(names, c.Name)
	}
	for _, s := range t.Switches {
		names = append(names, s.Name)
	}
	for _, h := range t.Hosts {
		names = append(names, h.Name)
	}
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("node with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate node name: %s", name)
		}
		seen[name] = true
	}

	for _, s := range t.Switches {
		if _, err := t.ControllerFor(s); err != nil {
			return err
		}
	}

	for _, l := range t.Links {
		if !seen[l.NodeA] || !seen[l.NodeB] {
			return fmt.Errorf("link %s-%s references unknown node", l.NodeA, l.NodeB)
		}
		if l.NodeA == l.NodeB {
			return fmt.Errorf("link %s-%s is a loop", l.NodeA, l.NodeB)
		}
	}
	return nil
}

// SwitchOrdinal maps "s1" to 0, "s2" to 1 and so on, the way physical
// switches are numbered against their controllers.
func SwitchOrdinal(name string) (int, error) {
	if !strings.HasPrefix(name, "s") {
		return 0, fmt.Errorf("switch name %q has no ordinal", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("switch name %q has no ordinal", name)
	}
	return n - 1, nil
}
