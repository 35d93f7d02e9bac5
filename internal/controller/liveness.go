package controller

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"dotcap/internal/topology"
)

// CheckListening waits until the controller accepts TCP connections on its
// OpenFlow port, retrying every interval until ctx is done. Controllers
// reached through an emulated host are not probed.
func CheckListening(ctx context.Context, c topology.Controller, interval time.Duration) error {
	if c.AssumesListening {
		return nil
	}

	addr := net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("controller %s not listening on %s: %w", c.Name, addr, err)
		case <-time.After(interval):
		}
	}
}
