package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerRouter walks a router through hello and feature reply, starting at sequence number 0
func registerRouter(t *testing.T, s *state.State, rec *RecordingTransport, addr netip.AddrPort, name, features string) {
	t.Helper()
	deliver(t, s, addr, data(0, protocol.KindHello, "00", "00", name))
	rec.AssertFrames(t,
		MakeFrame(addr, "ACK01"),
		MakeFrame(addr, "SND00HELLO0000|"),
		MakeFrame(addr, "SND01FETRQ0000|"),
	)
	deliver(t, s, addr, data(1, protocol.KindFeatureResp, "00", "00", features))
	rec.AssertFrames(t, MakeFrame(addr, "ACK02"))
}

func TestControllerLoneRouter(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())
	c := Get[*Controller](s)

	registerRouter(t, s, rec, r1Addr, "R1", "R100")
	peer := s.GetPeer("R1")
	require.NotNil(t, peer)
	assert.Equal(t, state.RoleRouter, peer.Role)
	assert.Equal(t, r1Addr, peer.Addr)

	info, ok := c.Topology.Router("R1")
	require.True(t, ok)
	assert.Equal(t, state.RouterInfo{Name: "R1", Links: []state.Link{}}, info)

	// no hosts are known, so the flow request is acknowledged and nothing is sent
	deliver(t, s, r1Addr, data(2, protocol.KindPacketIn, "00", "00", ""))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK03"))

	entries, ready := ComputeFlowTable(c.Topology, "R1")
	assert.True(t, ready)
	assert.Empty(t, entries)
}

func TestControllerSendsFlowTable(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())

	registerRouter(t, s, rec, r1Addr, "R1", "R1H1R201")
	registerRouter(t, s, rec, r2Addr, "R2", "R2H2R101")

	deliver(t, s, r1Addr, data(2, protocol.KindPacketIn, "00", "00", ""))
	rec.AssertFrames(t,
		MakeFrame(r1Addr, "ACK03"),
		MakeFrame(r1Addr, "SND02FLWMD0000H1R1H2R2|"),
	)

	deliver(t, s, r2Addr, data(2, protocol.KindPacketIn, "00", "00", ""))
	rec.AssertFrames(t,
		MakeFrame(r2Addr, "ACK03"),
		MakeFrame(r2Addr, "SND02FLWMD0000H1R1H2R2|"),
	)

	c := Get[*Controller](s)
	if diff := cmp.Diff([]state.HostAttachment{{Host: "H1", Router: "R1"}, {Host: "H2", Router: "R2"}}, c.Topology.Hosts()); diff != "" {
		t.Fatalf("unexpected hosts (-want +got):\n%s", diff)
	}
}

func TestControllerNotReady(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())

	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.Take()

	// flow request before the feature reply
	deliver(t, s, r1Addr, data(1, protocol.KindPacketIn, "00", "00", ""))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK02"))
}

func TestControllerIgnoresUnknownNonHello(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())

	deliver(t, s, r1Addr, data(0, protocol.KindFeatureResp, "00", "00", "R100"))
	rec.AssertFrames(t)
	assert.Nil(t, s.GetPeer("R1"))
	assert.Empty(t, Get[*Controller](s).Topology.Routers())
}

func TestControllerRefusesRegistration(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())

	// bad name
	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R"))
	rec.AssertFrames(t)
	assert.Empty(t, s.Peers)

	// the same name from a second address
	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.Take()
	deliver(t, s, r2Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.AssertFrames(t)
	assert.Len(t, s.Peers, 1)
}

func TestControllerFeatureReplyChecks(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())
	c := Get[*Controller](s)

	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.Take()

	// names another router
	deliver(t, s, r1Addr, data(1, protocol.KindFeatureResp, "00", "00", "R200"))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK02"))
	assert.Empty(t, c.Topology.Routers())

	// malformed
	deliver(t, s, r1Addr, data(2, protocol.KindFeatureResp, "00", "00", "R1H1R2"))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK03"))
	assert.Empty(t, c.Topology.Routers())

	deliver(t, s, r1Addr, data(3, protocol.KindFeatureResp, "00", "00", "R1H1R201"))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK04"))

	// neighbours are fixed once declared
	deliver(t, s, r1Addr, data(4, protocol.KindFeatureResp, "00", "00", "R1H1R205R301"))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK05"))
	info, ok := c.Topology.Router("R1")
	require.True(t, ok)
	assert.Equal(t, []state.Link{{Router: "R2", Distance: 1}}, info.Links)
}

func TestControllerDuplicateHello(t *testing.T) {
	s, rec := newTestNode(t, controllerCfg())

	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.Take()

	// a retransmitted hello is acknowledged again but not handled twice
	deliver(t, s, r1Addr, data(0, protocol.KindHello, "00", "00", "R1"))
	rec.AssertFrames(t, MakeFrame(r1Addr, "ACK01"))
}
