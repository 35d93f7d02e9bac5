package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/miekg/dns"
	probing "github.com/prometheus-community/pro-bing"
)

const resolvConf = "/etc/resolv.conf"

// resolveIPv4 resolves host to an IPv4 address. Queries go out over a
// socket opened on the calling thread, so inside Namespace.Do they leave
// from the host namespace.
func resolveIPv4(host string, timeout time.Duration) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", host)
	}

	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resolvConf, err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", resolvConf)
	}

	client := &dns.Client{Timeout: timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range conf.Servers {
		r, _, err := client.Exchange(m, net.JoinHostPort(server, conf.Port))
		if err != nil {
			lastErr = err
			continue
		}
		if r.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("lookup %s: %s", host, dns.RcodeToString[r.Rcode])
			continue
		}
		for _, rr := range r.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A, nil
			}
		}
		lastErr = fmt.Errorf("lookup %s: no A record", host)
	}
	return nil, lastErr
}

// errUnresolved marks a destination that could not be resolved. From a
// host whose traffic is blocked this is an unreachable destination, not
// a harness failure.
var errUnresolved = errors.New("destination unresolved")

// unreachable reports whether err is the kernel refusing to send because
// the host has no address or route for the destination. Such a probe is
// lost, like any other.
func unreachable(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EADDRNOTAVAIL)
}

// Ping sends one ICMP echo from the host to dst and reports whether a
// reply arrived within timeout.
func (n *Node) Ping(ctx context.Context, dst string, timeout time.Duration) (bool, error) {
	var reached bool
	err := n.NS.Do(func() error {
		ip, err := resolveIPv4(dst, timeout)
		if err != nil {
			return fmt.Errorf("%w: %v", errUnresolved, err)
		}

		pinger := probing.New(dst)
		pinger.SetIPAddr(&net.IPAddr{IP: ip})
		pinger.SetPrivileged(true)
		pinger.SetLogger(nil)
		pinger.RecordRtts = false
		pinger.Count = 1
		pinger.Timeout = timeout

		if err := pinger.RunWithContext(ctx); err != nil {
			if unreachable(err) {
				return nil
			}
			return fmt.Errorf("ping %s (ip %s): %w", dst, ip, err)
		}
		reached = pinger.Statistics().PacketsRecv > 0
		return nil
	})
	if errors.Is(err, errUnresolved) {
		return false, nil
	}
	return reached, err
}
