//go:build integration

package integration

import (
	"context"
	"net/netip"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func payloads(data []protocol.Data) []string {
	out := make([]string, 0, len(data))
	for _, d := range data {
		out = append(out, d.Payload)
	}
	return out
}

// TestLossyDelivery pushes a stream of packets through a network that drops, duplicates and reorders
// datagrams. Every packet must arrive exactly once and in order.
func TestLossyDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)
	vh := lineNetwork()
	vh.Net.Default().
		WithPacketLoss(0.2).
		WithDuplicate(0.1).
		WithLatency(2*time.Millisecond, 10*time.Millisecond)
	errs := vh.Start()
	defer vh.Stop()
	waitConverged(t, vh, errs)

	const count = 40
	expected := make([]string, 0, count)
	ctx, cancel := context.WithTimeout(vh.Context, 30*time.Second)
	defer cancel()
	for i := range count {
		p := strconv.Itoa(i)
		expected = append(expected, p)
		require.NoError(t, vh.Send(ctx, "H1", "H3", p))
	}

	require.Eventually(t, func() bool {
		return len(vh.Received("H3")) >= count
	}, 30*time.Second, 50*time.Millisecond)
	assert.Equal(t, expected, payloads(vh.Received("H3")))
	assert.Positive(t, vh.Net.Dropped.Load())
}

// TestLinkRecovers blocks the only path for a while. Nothing may be lost once it comes back.
func TestLinkRecovers(t *testing.T) {
	defer goleak.VerifyNone(t)
	vh := lineNetwork()
	var blocked atomic.Bool
	vh.Link("R1", "R2").WithFilter(func(from, to netip.AddrPort, pkt []byte) bool {
		return !blocked.Load()
	})
	errs := vh.Start()
	defer vh.Stop()
	waitConverged(t, vh, errs)

	ctx, cancel := context.WithTimeout(vh.Context, 20*time.Second)
	defer cancel()
	require.NoError(t, vh.Send(ctx, "H1", "H3", "before"))
	require.Eventually(t, func() bool {
		return len(vh.Received("H3")) == 1
	}, 10*time.Second, 20*time.Millisecond)

	blocked.Store(true)
	for _, p := range []string{"during1", "during2", "during3"} {
		require.NoError(t, vh.Send(ctx, "H1", "H3", p))
	}
	time.Sleep(5 * state.RetransmitDelay)
	assert.Len(t, vh.Received("H3"), 1)
	blocked.Store(false)

	require.Eventually(t, func() bool {
		return len(vh.Received("H3")) == 4
	}, 15*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"before", "during1", "during2", "during3"}, payloads(vh.Received("H3")))
}
