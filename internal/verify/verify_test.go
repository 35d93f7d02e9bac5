package verify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotcap/internal/harness"
	"dotcap/internal/harness/harnesstest"
	"dotcap/internal/topology"
)

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveProbe(ok bool) {
	if ok {
		o.ok++
	} else {
		o.failed++
	}
}

func newTestVerifier(p Prober, obs Observer) *Verifier {
	return New(p, Options{
		LearnTimeout: time.Second,
		Observer:     obs,
		Logger:       slog.New(slog.DiscardHandler),
	})
}

func newTestNetwork(t *testing.T, users int) *harnesstest.Network {
	t.Helper()
	topo, err := topology.Build(topology.Spec{Users: users})
	require.NoError(t, err)
	return &harnesstest.Network{Topo: topo}
}

func TestExpectReachable(t *testing.T) {
	net := newTestNetwork(t, 1)
	net.PingFunc = func(host, dst string) bool { return true }
	v := newTestVerifier(net, nil)

	require.NoError(t, v.ExpectReachable(context.Background(), "h0", "www.google.co.nz"))
	assert.Equal(t, []string{"learn h0", "ping h0 www.google.co.nz"}, net.Calls)
}

func TestExpectReachableProbesOnce(t *testing.T) {
	net := newTestNetwork(t, 1)
	v := newTestVerifier(net, nil)

	err := v.ExpectReachable(context.Background(), "h0", "www.google.co.nz")
	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "reply", aerr.Expected)
	assert.Equal(t, "no reply", aerr.Observed)
	assert.Equal(t, 1, net.Count("ping h0 www.google.co.nz"))
}

func TestExpectReachableNotLearned(t *testing.T) {
	net := newTestNetwork(t, 1)
	net.LearnErr = context.DeadlineExceeded
	v := newTestVerifier(net, nil)

	err := v.ExpectReachable(context.Background(), "h0", "10.0.12.3")
	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "h0 learned by its switch", aerr.Expected)
	assert.Zero(t, net.Count("ping h0 10.0.12.3"))
}

func TestExpectUnreachable(t *testing.T) {
	net := newTestNetwork(t, 1)
	obs := &countingObserver{}
	v := newTestVerifier(net, obs)

	require.NoError(t, v.ExpectUnreachable(context.Background(), "h0", "www.google.co.nz", 0))
	assert.Equal(t, DefaultRetries, net.Count("ping h0 www.google.co.nz"))
	assert.Equal(t, 1, net.Count("learn h0"))
	assert.Equal(t, DefaultRetries, obs.failed)
}

func TestExpectUnreachableSingleReplyFails(t *testing.T) {
	for reply := 1; reply <= 5; reply++ {
		net := newTestNetwork(t, 1)
		attempt := 0
		net.PingFunc = func(host, dst string) bool {
			attempt++
			return attempt == reply
		}
		v := newTestVerifier(net, nil)

		err := v.ExpectUnreachable(context.Background(), "h0", "www.google.co.nz", 5)
		var aerr *harness.AssertionError
		require.ErrorAs(t, err, &aerr, "reply on attempt %d", reply)
		assert.Equal(t, "no reply in 5 attempts", aerr.Expected)

		// No further probes after the first reply.
		assert.Equal(t, reply, net.Count("ping h0 www.google.co.nz"))
	}
}

func TestExpectUnreachableProbeError(t *testing.T) {
	v := newTestVerifier(erroringProber{}, nil)

	err := v.ExpectUnreachable(context.Background(), "h0", "10.0.0.4", 3)
	require.Error(t, err)
	var aerr *harness.AssertionError
	assert.False(t, errors.As(err, &aerr))
}

type erroringProber struct{}

func (erroringProber) Ping(ctx context.Context, host, dst string, timeout time.Duration) (bool, error) {
	return false, errors.New("socket: operation not permitted")
}

func (erroringProber) IP(ctx context.Context, host string) (string, error) { return "", nil }

func (erroringProber) WaitLearned(ctx context.Context, host string) error { return nil }

func TestProbeAllPairs(t *testing.T) {
	net := newTestNetwork(t, 3)
	net.PingFunc = func(host, dst string) bool {
		return host != "h2" && dst != "10.0.0.5"
	}
	v := newTestVerifier(net, nil)
	ctx := context.Background()

	r, err := v.Probe(ctx, []string{"h0", "h1"})
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 2, Received: 2}, r)
	assert.Equal(t, 1, net.Count("ping h0 10.0.0.4"))
	assert.Equal(t, 1, net.Count("ping h1 10.0.0.3"))

	r, err = v.Probe(ctx, []string{"h0", "h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 6, Received: 2}, r)
	assert.InDelta(t, 66.67, r.Loss(), 0.01)
}

func TestProbeRefreshesAddresses(t *testing.T) {
	net := newTestNetwork(t, 2)
	net.IPs = map[string]string{"h0": "10.0.0.42/8", "h1": ""}
	net.PingFunc = func(host, dst string) bool { return true }
	v := newTestVerifier(net, nil)

	r, err := v.Probe(context.Background(), []string{"h0", "h1"})
	require.NoError(t, err)

	// h1 has no address, so the probe to it is lost without being sent.
	assert.Equal(t, Result{Sent: 2, Received: 1}, r)
	assert.Equal(t, 1, net.Count("ping h1 10.0.0.42"))
	assert.Equal(t, 1, net.Count("ip h0"))
	assert.Equal(t, 1, net.Count("ip h1"))
}

func TestExpectLossPercent(t *testing.T) {
	net := newTestNetwork(t, 3)
	v := newTestVerifier(net, nil)
	ctx := context.Background()

	require.NoError(t, v.ExpectLossPercent(ctx, []string{"h0", "h1", "h2"}, 100))

	err := v.ExpectLossPercent(ctx, []string{"h0", "h1"}, 0)
	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "loss among h0,h1", aerr.Check)
	assert.Equal(t, "0%", aerr.Expected)
	assert.Equal(t, "100% (0/2 received)", aerr.Observed)
}

func TestExpectLossPercentUnaddressedSource(t *testing.T) {
	net := newTestNetwork(t, 2)
	net.IPs = map[string]string{"h0": "", "h1": "10.0.0.4/8"}
	// A host without an address cannot send; the emulator reports the
	// echo as unanswered.
	net.PingFunc = func(host, dst string) bool { return host != "h0" }
	v := newTestVerifier(net, nil)

	require.NoError(t, v.ExpectLossPercent(context.Background(), []string{"h0", "h1"}, 100))
	assert.Equal(t, 1, net.Count("ping h0 10.0.0.4"))
}

func TestExpectLossPercentIsExact(t *testing.T) {
	net := newTestNetwork(t, 2)
	first := true
	net.PingFunc = func(host, dst string) bool {
		ok := first
		first = false
		return ok
	}
	v := newTestVerifier(net, nil)

	err := v.ExpectLossPercent(context.Background(), []string{"h0", "h1"}, 100)
	var aerr *harness.AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "50% (1/2 received)", aerr.Observed)
}

func TestResultLoss(t *testing.T) {
	assert.Equal(t, 0.0, Result{}.Loss())
	assert.Equal(t, 100.0, Result{Sent: 6}.Loss())
	assert.Equal(t, 0.0, Result{Sent: 2, Received: 2}.Loss())
}
