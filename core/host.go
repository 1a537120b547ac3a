package core

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/encodeous/flowsim/perf"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
)

// Host is an end node. Once its router says hello it answers and starts generating traffic.
type Host struct {
	Connected bool
	Received  []protocol.Data

	env    *state.Env
	node   *Node
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (h *Host) Init(s *state.State) error {
	h.env = s.Env
	h.node = Get[*Node](s)
	h.ctx, h.cancel = context.WithCancel(s.Context)
	s.AddPeer(s.Router.Id, state.RoleRouter, s.Router.Addr)
	s.Log.Info("waiting for router", "router", s.Router.Id)
	return nil
}

func (h *Host) Cleanup(s *state.State) error {
	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *Host) HandleRegistration(s *state.State, addr netip.AddrPort, hello protocol.Data) *state.Peer {
	return nil
}

func (h *Host) HandleData(s *state.State, from *state.Peer, pkt protocol.Data) error {
	if from.Role != state.RoleRouter {
		return nil
	}
	switch pkt.Kind {
	case protocol.KindHello:
		if h.Connected {
			return nil
		}
		h.Connected = true
		s.Log.Info("router said hello, connected", "router", from.Id)
		err := h.node.Enqueue(s, from, protocol.Data{
			Kind: protocol.KindHello,
			Src:  string(s.Id),
			Dst:  string(from.Id),
		})
		if err != nil {
			s.Log.Warn("failed to say hello", "error", err)
		}
		if !s.NoTraffic && len(s.Hosts) > 0 {
			h.wg.Add(1)
			go h.traffic()
		}
	case protocol.KindPacketIn:
		h.Received = append(h.Received, pkt)
		perf.DeliveredPackets.Add(1)
		s.Log.Info("packet received", "src", pkt.Src, "content", pkt.Payload)
	default:
		s.Log.Debug("ignored packet", "from", from.Id, "kind", pkt.Kind)
	}
	return nil
}

// Send hands a data packet for dst to the attached router, blocking while the window is full.
func (h *Host) Send(ctx context.Context, dst state.NodeId, payload string) error {
	return h.node.Send(ctx, h.env.Router.Id, protocol.Data{
		Kind:    protocol.KindPacketIn,
		Src:     string(h.env.Id),
		Dst:     string(dst),
		Payload: payload,
	})
}

func (h *Host) traffic() {
	defer h.wg.Done()
	e := h.env
	for {
		delay := state.TrafficMinDelay + rand.N(state.TrafficMaxDelay-state.TrafficMinDelay+1)
		select {
		case <-time.After(delay):
		case <-h.ctx.Done():
			return
		}
		if rand.Float64() >= state.TrafficProbability {
			continue
		}
		dst := e.Hosts[rand.IntN(len(e.Hosts))]
		payload := strconv.Itoa(rand.IntN(state.TrafficPayloadMax))
		if err := h.Send(h.ctx, dst, payload); err != nil {
			if h.ctx.Err() != nil {
				return
			}
			e.Log.Warn("failed to send packet", "dst", dst, "error", err)
			continue
		}
		e.Log.Info("packet sent", "dst", dst, "content", payload)
	}
}
