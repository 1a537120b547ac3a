package core

import (
	"testing"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*state.State, *RecordingTransport, *Router) {
	t.Helper()
	s, rec := newTestNode(t, routerCfg())
	rec.AssertFrames(t, MakeFrame(ctlAddr, "SND00HELLO0000R1|"))
	return s, rec, Get[*Router](s)
}

func TestRouterInit(t *testing.T) {
	s, _, r := newTestRouter(t)

	require.Len(t, s.Peers, 4)
	assert.Equal(t, state.RoleController, s.GetPeer("C0").Role)
	assert.Equal(t, state.RoleHost, s.GetPeer("H1").Role)
	assert.Equal(t, state.RoleRouter, s.GetPeer("R2").Role)
	assert.Equal(t, r2Addr, s.GetPeer("R2").Addr)
	assert.Equal(t, state.RoleRouter, s.GetPeer("R3").Role)
	assert.Equal(t, r3Addr, s.GetPeer("R3").Addr)
	assert.False(t, r.SetupComplete)
	assert.Empty(t, r.FlowTable)
}

func TestRouterSetup(t *testing.T) {
	s, rec, r := newTestRouter(t)

	deliver(t, s, ctlAddr, data(0, protocol.KindHello, "00", "00", ""))
	rec.AssertFrames(t, MakeFrame(ctlAddr, "ACK01"))
	assert.False(t, r.SetupComplete)

	deliver(t, s, ctlAddr, data(1, protocol.KindFeatureReq, "00", "00", ""))
	rec.AssertFrames(t,
		MakeFrame(ctlAddr, "ACK02"),
		MakeFrame(ctlAddr, "SND01FETRP0000R1H1R201R307|"),
		MakeFrame(h1Addr, "SND00HELLO0000|"),
	)
	assert.True(t, r.SetupComplete)
	assert.False(t, r.HostConnected)

	deliver(t, s, h1Addr, data(0, protocol.KindHello, "H1", "R1", ""))
	rec.AssertFrames(t, MakeFrame(h1Addr, "ACK01"))
	assert.True(t, r.HostConnected)
}

func TestRouterRequestsFlowTableOnMiss(t *testing.T) {
	s, rec, r := newTestRouter(t)

	deliver(t, s, h1Addr, data(0, protocol.KindHello, "H1", "R1", ""))
	rec.Take()

	deliver(t, s, h1Addr, data(1, protocol.KindPacketIn, "H1", "H2", "42"))
	rec.AssertFrames(t,
		MakeFrame(h1Addr, "ACK02"),
		MakeFrame(ctlAddr, "SND01PACIN0000|"),
	)
	deliver(t, s, h1Addr, data(2, protocol.KindPacketIn, "H1", "H3", "43"))
	rec.AssertFrames(t,
		MakeFrame(h1Addr, "ACK03"),
		MakeFrame(ctlAddr, "SND02PACIN0000|"),
	)
	require.Len(t, r.Pending, 2)

	// only H2 becomes routable, the packet for H3 keeps waiting
	deliver(t, s, ctlAddr, data(0, protocol.KindFlowMod, "00", "00", "H2R2"))
	rec.AssertFrames(t,
		MakeFrame(ctlAddr, "ACK01"),
		MakeFrame(r2Addr, "SND00PACINH1H242|"),
	)
	require.Len(t, r.Pending, 1)
	assert.Equal(t, "H3", r.Pending[0].Dst)

	deliver(t, s, ctlAddr, data(1, protocol.KindFlowMod, "00", "00", "H2R2H3R3"))
	rec.AssertFrames(t,
		MakeFrame(ctlAddr, "ACK02"),
		MakeFrame(r3Addr, "SND00PACINH1H343|"),
	)
	assert.Empty(t, r.Pending)

	// routes now exist, so forwarding is immediate
	deliver(t, s, h1Addr, data(3, protocol.KindPacketIn, "H1", "H2", "44"))
	rec.AssertFrames(t,
		MakeFrame(h1Addr, "ACK04"),
		MakeFrame(r2Addr, "SND01PACINH1H244|"),
	)
}

func TestRouterFlowTableReplaced(t *testing.T) {
	s, rec, r := newTestRouter(t)

	deliver(t, s, ctlAddr, data(0, protocol.KindFlowMod, "00", "00", "H2R3H3R3"))
	deliver(t, s, ctlAddr, data(1, protocol.KindFlowMod, "00", "00", "H2R2"))
	rec.Take()

	assert.Equal(t, []protocol.FlowEntry{{Host: "H2", NextHop: "R2"}}, r.FlowTable.Entries())
}

func TestRouterForwardsTransitTraffic(t *testing.T) {
	s, rec, _ := newTestRouter(t)

	deliver(t, s, ctlAddr, data(0, protocol.KindFlowMod, "00", "00", "H3R3"))
	rec.Take()

	deliver(t, s, r2Addr, data(0, protocol.KindPacketIn, "H2", "H3", "transit"))
	rec.AssertFrames(t,
		MakeFrame(r2Addr, "ACK01"),
		MakeFrame(r3Addr, "SND00PACINH2H3transit|"),
	)
}

func TestRouterLocalDelivery(t *testing.T) {
	s, rec, _ := newTestRouter(t)

	// the host has not said hello yet
	deliver(t, s, r2Addr, data(0, protocol.KindPacketIn, "H2", "H1", "early"))
	rec.AssertFrames(t, MakeFrame(r2Addr, "ACK01"))

	deliver(t, s, h1Addr, data(0, protocol.KindHello, "H1", "R1", ""))
	rec.AssertFrames(t, MakeFrame(h1Addr, "ACK01"))

	deliver(t, s, r2Addr, data(1, protocol.KindPacketIn, "H2", "H1", "late"))
	rec.AssertFrames(t,
		MakeFrame(r2Addr, "ACK02"),
		MakeFrame(h1Addr, "SND00PACINH2H1late|"),
	)
}

func TestRouterDropsUnknownNextHop(t *testing.T) {
	s, rec, r := newTestRouter(t)

	deliver(t, s, ctlAddr, data(0, protocol.KindFlowMod, "00", "00", "H2R9H3C0"))
	rec.Take()

	deliver(t, s, r2Addr, data(0, protocol.KindPacketIn, "H1", "H2", "a"))
	deliver(t, s, r2Addr, data(1, protocol.KindPacketIn, "H1", "H3", "b"))
	rec.AssertFrames(t,
		MakeFrame(r2Addr, "ACK01"),
		MakeFrame(r2Addr, "ACK02"),
	)
	assert.Empty(t, r.Pending)
}

func TestRouterIgnoresStrangers(t *testing.T) {
	s, rec, _ := newTestRouter(t)

	deliver(t, s, h2Addr, data(0, protocol.KindHello, "H2", "R1", ""))
	rec.AssertFrames(t)
	assert.Nil(t, s.GetPeerByAddr(h2Addr))
}
