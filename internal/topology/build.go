package topology

import (
	"fmt"
	"strings"
)

// Fixed addressing of the dot1x/CapFlow test network.
const (
	PortalName = "portal"
	PortalIP   = "10.0.12.3/24"
	PortalMAC  = "70:6f:72:74:61:6c"

	ContrName = "contr"
	ContrIP   = "10.0.10.2/24"
	ContrMAC  = "63:6f:6e:74:72:6f"

	// Addresses of the portal <-> c0 management link.
	PortalMgmtIP     = "10.0.13.2/24"
	ControllerMgmtIP = "10.0.13.3/24"

	// Switch-side address of the contr <-> s2 link.
	ContrGatewayIP = "10.0.10.1/24"

	ControllerPort = 6633
	OfctlPort      = 8084

	DefaultUsers = 3
	MaxUsers     = 200
)

// DefaultPrivateDirs are mounted privately on every user host so each
// supplicant sees its own credential material.
var DefaultPrivateDirs = []string{"/etc/wpa_supplicant"}

// Spec parameterizes Build. Controller and switch counts are fixed.
type Spec struct {
	Users       int
	Datapath    Datapath
	Protocols   []string
	PrivateDirs []string
}

func DefaultSpec() Spec {
	return Spec{
		Users:       DefaultUsers,
		Datapath:    DatapathOVS,
		Protocols:   []string{"OpenFlow13"},
		PrivateDirs: DefaultPrivateDirs,
	}
}

// UserName returns the name of user host n.
func UserName(n int) string {
	return fmt.Sprintf("h%d", n)
}

// UserMAC returns the MAC of user host n: 00:00:00:00:00:10 for h0,
// 00:00:00:00:00:11 for h1 and so on.
func UserMAC(n int) string {
	return fmt.Sprintf("00:00:00:00:00:%02x", 0x10+n)
}

// UserIP returns the address user host n starts with before DHCP. Hosts
// are numbered after the portal and contr hosts.
func UserIP(n int) string {
	return fmt.Sprintf("10.0.0.%d/8", n+3)
}

// UserCredentials returns the credential pair copied onto user host n.
func UserCredentials(n int) Credentials {
	return Credentials{
		User:     fmt.Sprintf("host11%duser", n),
		Password: fmt.Sprintf("host11%dpass", n),
	}
}

// Build declares the two-controller, two-switch network described by spec.
func Build(spec Spec) (*Topology, error) {
	if spec.Users < 1 || spec.Users > MaxUsers {
		return nil, fmt.Errorf("user count %d out of range [1, %d]", spec.Users, MaxUsers)
	}
	if spec.Datapath == "" {
		spec.Datapath = DatapathOVS
	}
	if len(spec.Protocols) == 0 {
		spec.Protocols = []string{"OpenFlow13"}
	}

	t := NewTopology()

	t.AddController(Controller{
		Name:      "c0",
		IP:        "127.0.0.1",
		Port:      ControllerPort,
		OfctlPort: OfctlPort,
		Role:      RolePrimaryAuth,
	})
	t.AddController(Controller{
		Name:             "c1",
		IP:               IPOf(ContrIP),
		Port:             ControllerPort,
		Role:             RoleInbandSecondary,
		AssumesListening: true,
	})

	for i, inband := range []bool{true, false} {
		name := fmt.Sprintf("s%d", i+1)
		ordinal, err := SwitchOrdinal(name)
		if err != nil {
			return nil, err
		}
		t.AddSwitch(Switch{
			Name:       name,
			Protocols:  append([]string(nil), spec.Protocols...),
			Controller: ordinal,
			Inband:     inband,
			Datapath:   spec.Datapath,
		})
	}
	t.AddLink("s1", "s2")

	t.AddHost(Host{Name: PortalName, MAC: PortalMAC, IP: PortalIP, Role: RolePortal})
	t.AddLink(PortalName, "s1")
	t.AddLinkWithIPs(PortalName, "c0", PortalMgmtIP, ControllerMgmtIP)

	t.AddHost(Host{Name: ContrName, MAC: ContrMAC, IP: ContrIP, Role: RoleControllerColocated})
	t.AddLinkWithIPs(ContrName, "s2", "", ContrGatewayIP)

	for n := 0; n < spec.Users; n++ {
		creds := UserCredentials(n)
		t.AddHost(Host{
			Name:        UserName(n),
			MAC:         UserMAC(n),
			IP:          UserIP(n),
			Role:        RoleUser,
			Ordinal:     n,
			PrivateDirs: append([]string(nil), spec.PrivateDirs...),
			Credentials: &creds,
		})
		t.AddLink(UserName(n), "s2")
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("validate topology: %w", err)
	}
	return t, nil
}

// IPOf strips the prefix length from a CIDR address.
func IPOf(cidr string) string {
	ip, _, _ := strings.Cut(cidr, "/")
	return ip
}
