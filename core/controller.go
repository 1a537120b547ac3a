package core

import (
	"net/netip"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
)

// Controller learns the topology from router feature replies and answers flow table requests.
type Controller struct {
	Topology *state.Topology
}

func (c *Controller) Init(s *state.State) error {
	c.Topology = state.NewTopology()
	s.Log.Info("controller ready, waiting for routers")
	return nil
}

func (c *Controller) Cleanup(s *state.State) error {
	return nil
}

// HandleRegistration registers an unknown router saying hello. The router names itself in the
// payload.
func (c *Controller) HandleRegistration(s *state.State, addr netip.AddrPort, hello protocol.Data) *state.Peer {
	name := state.NodeId(hello.Payload)
	if err := state.NameValidator(string(name)); err != nil {
		s.Log.Warn("refused registration", "from", addr, "error", err)
		return nil
	}
	if existing := s.GetPeer(name); existing != nil {
		s.Log.Warn("refused registration, router already registered", "router", name, "from", addr, "registered", existing.Addr)
		return nil
	}
	peer := s.AddPeer(name, state.RoleRouter, addr)
	s.Log.Info("registered router", "router", name, "addr", addr)
	return peer
}

func (c *Controller) HandleData(s *state.State, from *state.Peer, pkt protocol.Data) error {
	switch pkt.Kind {
	case protocol.KindHello:
		s.Log.Info("router says hello", "router", from.Id)
		c.send(s, from, protocol.KindHello, "")
		c.send(s, from, protocol.KindFeatureReq, "")
	case protocol.KindFeatureResp:
		c.handleFeatures(s, from, pkt.Payload)
	case protocol.KindPacketIn:
		if !pkt.IsFlowRequest() {
			s.Log.Warn("controller does not forward data", "from", from.Id, "dst", pkt.Dst)
			return nil
		}
		c.handleFlowRequest(s, from)
	default:
		s.Log.Debug("ignored packet", "from", from.Id, "kind", pkt.Kind)
	}
	return nil
}

func (c *Controller) handleFeatures(s *state.State, from *state.Peer, payload string) {
	f, err := protocol.DecodeFeatureReply(payload)
	if err != nil {
		s.Log.Warn("malformed feature reply", "from", from.Id, "error", err)
		return
	}
	if state.NodeId(f.Router) != from.Id {
		s.Log.Warn("feature reply names another router", "from", from.Id, "router", f.Router)
		return
	}
	info := state.RouterInfoFromFeatures(f)
	if !c.Topology.AddRouter(info) {
		s.Log.Info("ignored repeated feature reply, neighbours are fixed once declared", "router", from.Id)
		return
	}
	s.Log.Info("received feature reply", "router", info.Name, "host", info.Host, "links", info.Links)
}

func (c *Controller) handleFlowRequest(s *state.State, from *state.Peer) {
	entries, ready := ComputeFlowTable(c.Topology, from.Id)
	if !ready {
		s.Log.Info("flow request before feature reply, not ready", "router", from.Id)
		return
	}
	if len(entries) == 0 {
		s.Log.Info("no hosts reachable yet", "router", from.Id)
		return
	}
	payload, err := protocol.EncodeFlowMod(entries)
	if err != nil {
		s.Log.Error("failed to encode flow table", "router", from.Id, "error", err)
		return
	}
	s.Log.Info("sending flow table", "router", from.Id, "entries", entries)
	c.send(s, from, protocol.KindFlowMod, payload)
}

func (c *Controller) send(s *state.State, to *state.Peer, kind protocol.Kind, payload string) {
	err := Get[*Node](s).Enqueue(s, to, protocol.Data{
		Kind:    kind,
		Src:     protocol.NoName,
		Dst:     protocol.NoName,
		Payload: payload,
	})
	if err != nil {
		s.Log.Warn("failed to send", "to", to.Id, "kind", kind, "error", err)
	}
}
