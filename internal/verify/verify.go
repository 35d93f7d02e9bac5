// Package verify asserts reachability between emulated hosts.
//
// Positive checks probe once: a host that is not reachable yet is a common
// transient. Negative checks probe several times and fail on the first
// reply, since a reply from a host that should be blocked is a leak.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dotcap/internal/harness"
	"dotcap/internal/topology"
)

const (
	DefaultRetries      = 3
	DefaultLearnTimeout = 30 * time.Second
	DefaultPingTimeout  = 5 * time.Second
	// DefaultGroupTimeout bounds each probe of a group check.
	DefaultGroupTimeout = 5 * time.Second
)

// Prober sends probes from emulated hosts.
type Prober interface {
	Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error)
	IP(ctx context.Context, host string) (string, error)
	WaitLearned(ctx context.Context, host string) error
}

// Observer is told the outcome of every probe.
type Observer interface {
	ObserveProbe(ok bool)
}

type Options struct {
	LearnTimeout time.Duration
	PingTimeout  time.Duration
	GroupTimeout time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

type Verifier struct {
	prober Prober
	opts   Options
	log    *slog.Logger
}

func New(p Prober, opts Options) *Verifier {
	if opts.LearnTimeout == 0 {
		opts.LearnTimeout = DefaultLearnTimeout
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.GroupTimeout == 0 {
		opts.GroupTimeout = DefaultGroupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Verifier{prober: p, opts: opts, log: opts.Logger}
}

func (v *Verifier) probe(ctx context.Context, src, dst string, timeout time.Duration) (bool, error) {
	ok, err := v.prober.Ping(ctx, src, dst, timeout)
	if err != nil {
		return false, fmt.Errorf("ping %s -> %s: %w", src, dst, err)
	}
	if v.opts.Observer != nil {
		v.opts.Observer.ObserveProbe(ok)
	}
	v.log.Debug("probe", "src", src, "dst", dst, "reply", ok)
	return ok, nil
}

// waitLearned blocks until src is known to its switch. Probing earlier
// gives false negatives.
func (v *Verifier) waitLearned(ctx context.Context, src, check string) error {
	lctx, cancel := context.WithTimeout(ctx, v.opts.LearnTimeout)
	defer cancel()

	if err := v.prober.WaitLearned(lctx, src); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &harness.AssertionError{
			Check:    check,
			Expected: src + " learned by its switch",
			Observed: err.Error(),
		}
	}
	return nil
}

// ExpectReachable waits until src is learned and sends exactly one probe,
// which must be answered.
func (v *Verifier) ExpectReachable(ctx context.Context, src, dst string) error {
	check := fmt.Sprintf("reachable %s -> %s", src, dst)
	if err := v.waitLearned(ctx, src, check); err != nil {
		return err
	}

	ok, err := v.probe(ctx, src, dst, v.opts.PingTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return &harness.AssertionError{Check: check, Expected: "reply", Observed: "no reply"}
	}
	return nil
}

// ExpectUnreachable waits until src is learned and probes up to retries
// times. The first reply fails the check; it passes only if every probe
// goes unanswered. A non-positive retries means DefaultRetries.
func (v *Verifier) ExpectUnreachable(ctx context.Context, src, dst string, retries int) error {
	if retries <= 0 {
		retries = DefaultRetries
	}

	check := fmt.Sprintf("unreachable %s -> %s", src, dst)
	if err := v.waitLearned(ctx, src, check); err != nil {
		return err
	}

	for i := 1; i <= retries; i++ {
		ok, err := v.probe(ctx, src, dst, v.opts.PingTimeout)
		if err != nil {
			return err
		}
		if ok {
			return &harness.AssertionError{
				Check:    check,
				Expected: fmt.Sprintf("no reply in %d attempts", retries),
				Observed: fmt.Sprintf("reply on attempt %d", i),
			}
		}
	}
	return nil
}

// Result is the outcome of probing every ordered pair of a host group.
type Result struct {
	Sent     int
	Received int
}

// Loss is the percentage of probes that went unanswered.
func (r Result) Loss() float64 {
	if r.Sent == 0 {
		return 0
	}
	return 100 * float64(r.Sent-r.Received) / float64(r.Sent)
}

// Probe refreshes the address of every host, then sends one probe from
// each host to each other host. A host without an address counts as
// unreachable.
func (v *Verifier) Probe(ctx context.Context, hosts []string) (Result, error) {
	addrs := make(map[string]string, len(hosts))
	for _, h := range hosts {
		cidr, err := v.prober.IP(ctx, h)
		if err != nil {
			return Result{}, fmt.Errorf("query address of %s: %w", h, err)
		}
		addrs[h] = topology.IPOf(cidr)
	}

	var r Result
	for _, src := range hosts {
		for _, dst := range hosts {
			if src == dst {
				continue
			}
			r.Sent++

			if addrs[dst] == "" {
				v.log.Debug("probe skipped, no address", "src", src, "dst", dst)
				continue
			}
			ok, err := v.probe(ctx, src, addrs[dst], v.opts.GroupTimeout)
			if err != nil {
				return Result{}, err
			}
			if ok {
				r.Received++
			}
		}
	}

	v.log.Info("group probe", "hosts", strings.Join(hosts, ","),
		"dropped", fmt.Sprintf("%g%%", r.Loss()),
		"received", fmt.Sprintf("%d/%d", r.Received, r.Sent))
	return r, nil
}

// ExpectLossPercent probes the group and requires the loss to equal pct
// exactly.
func (v *Verifier) ExpectLossPercent(ctx context.Context, hosts []string, pct float64) error {
	r, err := v.Probe(ctx, hosts)
	if err != nil {
		return err
	}
	if loss := r.Loss(); loss != pct {
		return &harness.AssertionError{
			Check:    "loss among " + strings.Join(hosts, ","),
			Expected: fmt.Sprintf("%g%%", pct),
			Observed: fmt.Sprintf("%g%% (%d/%d received)", loss, r.Received, r.Sent),
		}
	}
	return nil
}
