package core

import (
	"net/netip"

	"github.com/encodeous/flowsim/perf"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
)

// Router forwards host traffic using the flow table pushed by the controller.
type Router struct {
	FlowTable state.FlowTable
	// Pending holds packets whose destination had no flow table entry, oldest first
	Pending       []protocol.Data
	SetupComplete bool
	HostConnected bool
}

func (r *Router) Init(s *state.State) error {
	r.FlowTable = make(state.FlowTable)

	ctl := s.AddPeer(s.Controller.Id, state.RoleController, s.Controller.Addr)
	if s.Host != nil {
		s.AddPeer(s.Host.Id, state.RoleHost, s.Host.Addr)
	}
	for _, n := range s.Neighbours {
		s.AddPeer(n.Id, state.RoleRouter, n.Addr)
	}

	s.Log.Info("saying hello to controller", "controller", ctl.Id)
	r.send(s, ctl, protocol.Data{Kind: protocol.KindHello, Payload: string(s.Id)})
	return nil
}

func (r *Router) Cleanup(s *state.State) error {
	if len(r.Pending) > 0 {
		s.Log.Info("dropping pending packets", "count", len(r.Pending))
	}
	return nil
}

// HandleRegistration refuses unknown peers, a router only talks to configured nodes.
func (r *Router) HandleRegistration(s *state.State, addr netip.AddrPort, hello protocol.Data) *state.Peer {
	return nil
}

func (r *Router) HandleData(s *state.State, from *state.Peer, pkt protocol.Data) error {
	switch from.Role {
	case state.RoleController:
		r.handleController(s, pkt)
	case state.RoleHost:
		switch pkt.Kind {
		case protocol.KindHello:
			r.HostConnected = true
			s.Log.Info("host connected", "host", from.Id)
		case protocol.KindPacketIn:
			s.Log.Info("packet from host", "host", from.Id, "dst", pkt.Dst)
			r.forward(s, pkt)
		default:
			s.Log.Debug("ignored packet", "from", from.Id, "kind", pkt.Kind)
		}
	case state.RoleRouter:
		if pkt.Kind != protocol.KindPacketIn {
			s.Log.Debug("ignored packet", "from", from.Id, "kind", pkt.Kind)
			return nil
		}
		r.forward(s, pkt)
	}
	return nil
}

func (r *Router) handleController(s *state.State, pkt protocol.Data) {
	ctl := s.GetPeer(s.Controller.Id)
	switch pkt.Kind {
	case protocol.KindHello:
		s.Log.Info("controller said hello back")
	case protocol.KindFeatureReq:
		payload, err := s.RouterInfo().Features().Encode()
		if err != nil {
			s.Log.Error("failed to encode feature reply", "error", err)
			return
		}
		r.send(s, ctl, protocol.Data{Kind: protocol.KindFeatureResp, Payload: payload})
		r.SetupComplete = true
		s.Log.Info("feature reply sent, setup complete", "features", payload)

		if s.Host != nil {
			r.send(s, s.GetPeer(s.Host.Id), protocol.Data{Kind: protocol.KindHello})
		}
	case protocol.KindFlowMod:
		entries, err := protocol.DecodeFlowMod(pkt.Payload)
		if err != nil {
			s.Log.Warn("malformed flow table", "error", err)
			return
		}
		r.FlowTable.Replace(entries)
		s.Log.Info("controller updated our flow table", "entries", entries)
		r.drainPending(s)
	default:
		s.Log.Debug("ignored packet from controller", "kind", pkt.Kind)
	}
}

// forward delivers pkt to the local host, sends it to its next hop, or queues it and asks the
// controller for a new flow table.
func (r *Router) forward(s *state.State, pkt protocol.Data) {
	dst := state.NodeId(pkt.Dst)
	if s.Host != nil && dst == s.Host.Id {
		r.deliverLocal(s, pkt)
		return
	}
	hop, ok := r.FlowTable.Lookup(dst)
	if !ok {
		r.Pending = append(r.Pending, pkt)
		s.Log.Info("no route, requesting flow table", "dst", dst, "pending", len(r.Pending))
		r.send(s, s.GetPeer(s.Controller.Id), protocol.Data{Kind: protocol.KindPacketIn})
		return
	}
	next := s.GetPeer(hop)
	if next == nil || next.Role != state.RoleRouter {
		perf.DroppedPackets.Add(1)
		s.Log.Warn("next hop is not a neighbour, packet discarded", "dst", dst, "hop", hop)
		return
	}
	r.send(s, next, pkt)
	perf.ForwardedPackets.Add(1)
	s.Log.Info("packet forwarded", "to", hop, "src", pkt.Src, "dst", pkt.Dst, "content", pkt.Payload)
}

func (r *Router) deliverLocal(s *state.State, pkt protocol.Data) {
	if !r.HostConnected {
		perf.DroppedPackets.Add(1)
		s.Log.Info("host is not connected, packet discarded", "host", pkt.Dst, "src", pkt.Src)
		return
	}
	r.send(s, s.GetPeer(s.Host.Id), pkt)
	s.Log.Info("packet delivered", "host", pkt.Dst, "src", pkt.Src, "content", pkt.Payload)
}

// drainPending forwards every queued packet whose destination is now routable.
func (r *Router) drainPending(s *state.State) {
	kept := r.Pending[:0]
	var ready []protocol.Data
	for _, pkt := range r.Pending {
		dst := state.NodeId(pkt.Dst)
		_, known := r.FlowTable.Lookup(dst)
		if known || (s.Host != nil && dst == s.Host.Id) {
			ready = append(ready, pkt)
		} else {
			kept = append(kept, pkt)
		}
	}
	r.Pending = kept
	for _, pkt := range ready {
		r.forward(s, pkt)
	}
}

func (r *Router) send(s *state.State, to *state.Peer, d protocol.Data) {
	if d.Src == "" {
		d.Src = protocol.NoName
	}
	if d.Dst == "" {
		d.Dst = protocol.NoName
	}
	if err := Get[*Node](s).Enqueue(s, to, d); err != nil {
		s.Log.Warn("failed to send", "to", to.Id, "kind", d.Kind, "error", err)
	}
}
