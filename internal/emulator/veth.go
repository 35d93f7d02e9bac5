package emulator

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Veth is a virtual ethernet pair. Both ends start in the root namespace.
type Veth struct {
	Name     string `json:"name"`
	PeerName string `json:"peer_name"`
}

// createVeth creates a veth pair in the root namespace.
func createVeth(name, peer string) (*Veth, error) {
	v := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{
			Name: name,
		},
		PeerName: peer,
	}

	if err := netlink.LinkAdd(v); err != nil {
		return nil, fmt.Errorf("create veth %s<->%s: %w", name, peer, err)
	}

	return &Veth{Name: name, PeerName: peer}, nil
}

// moveToNamespace moves one end of the pair into ns.
func moveToNamespace(ifname string, ns *Namespace) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("find interface %s: %w", ifname, err)
	}

	nsHandle, err := netns.GetFromPath(ns.Path)
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", ns.Name, err)
	}
	defer nsHandle.Close()

	if err := netlink.LinkSetNsFd(link, int(nsHandle)); err != nil {
		return fmt.Errorf("set netns for %s: %w", ifname, err)
	}
	return nil
}

// configureLink sets the MAC and address of an interface through h and
// brings it up. Empty mac or cidr leave the current values in place.
func configureLink(h *netlink.Handle, ifname, mac, cidr string) error {
	link, err := h.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("get link %s: %w", ifname, err)
	}

	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("parse mac %s: %w", mac, err)
		}
		if err := h.LinkSetHardwareAddr(link, hw); err != nil {
			return fmt.Errorf("set mac on %s: %w", ifname, err)
		}
	}

	if cidr != "" {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return fmt.Errorf("parse addr %s: %w", cidr, err)
		}
		if err := h.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("add addr %s to %s: %w", cidr, ifname, err)
		}
	}

	if err := h.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %s up: %w", ifname, err)
	}
	return nil
}

// ipv4Of returns the first IPv4 address on ifname in CIDR form, or "" if
// the interface has none.
func ipv4Of(h *netlink.Handle, ifname string) (string, error) {
	link, err := h.LinkByName(ifname)
	if err != nil {
		return "", fmt.Errorf("get link %s: %w", ifname, err)
	}

	addrs, err := h.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("list addrs on %s: %w", ifname, err)
	}
	for _, a := range addrs {
		if a.IPNet != nil {
			return a.IPNet.String(), nil
		}
	}
	return "", nil
}

// addDeviceRoute installs a scope-link route for dst out of ifname.
func addDeviceRoute(h *netlink.Handle, dst, ifname string) error {
	link, err := h.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("get link %s: %w", ifname, err)
	}

	_, ipnet, err := net.ParseCIDR(dst)
	if err != nil {
		return fmt.Errorf("parse route %s: %w", dst, err)
	}

	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       ipnet,
		Scope:     netlink.SCOPE_LINK,
	}
	if err := h.RouteAdd(route); err != nil {
		return fmt.Errorf("add route %s dev %s: %w", dst, ifname, err)
	}
	return nil
}

// deleteLink removes an interface from the root namespace. A missing
// interface is not an error: deleting one end of a veth removes both.
func deleteLink(ifname string) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("get link %s: %w", ifname, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete link %s: %w", ifname, err)
	}
	return nil
}

// rootHandle returns a netlink handle bound to the init namespace.
func rootHandle() (*netlink.Handle, error) {
	initNS, err := netns.GetFromPath("/proc/1/ns/net")
	if err != nil {
		return nil, fmt.Errorf("get init ns: %w", err)
	}
	defer initNS.Close()

	h, err := netlink.NewHandleAt(initNS)
	if err != nil {
		return nil, fmt.Errorf("netlink handle in init ns: %w", err)
	}
	return h, nil
}
