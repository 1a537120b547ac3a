package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/flowsim/perf"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/gaissmai/bart"
	"github.com/jellydator/ttlcache/v3"
)

// RoleHandler is the part of a node that differs between hosts, routers and the controller.
type RoleHandler interface {
	state.Module
	// HandleData is called for every in-order data packet, after it has been acknowledged.
	HandleData(s *state.State, from *state.Peer, pkt protocol.Data) error
	// HandleRegistration is called for a HELLO from an address with no session. It returns the new
	// session, or nil to ignore the packet.
	HandleRegistration(s *state.State, addr netip.AddrPort, hello protocol.Data) *state.Peer
}

// Node owns the socket of a node process and the reliable delivery state of every peer.
type Node struct {
	Transport Transport
	Handler   RoleHandler

	env     *state.Env
	allow   bart.Table[struct{}]
	unknown *ttlcache.Cache[netip.AddrPort, struct{}]
	wg      sync.WaitGroup
}

func (n *Node) Init(s *state.State) error {
	n.env = s.Env
	for _, p := range s.Allow {
		n.allow.Insert(p, struct{}{})
	}
	if len(s.Allow) == 0 {
		s.Log.Warn("allow list is empty, every datagram will be dropped")
	}
	n.unknown = ttlcache.New[netip.AddrPort, struct{}](
		ttlcache.WithTTL[netip.AddrPort, struct{}](state.UnknownPeerLogTTL),
		ttlcache.WithDisableTouchOnHit[netip.AddrPort, struct{}](),
	)

	if n.Transport == nil {
		t, err := ListenUDP(s.Bind)
		if err != nil {
			return err
		}
		n.Transport = t
	}
	s.Log.Info("listening", "addr", n.Transport.LocalAddr())

	n.wg.Add(1)
	go n.readLoop(s.Env)
	s.Env.RepeatTask(n.retransmitDue, state.RetransmitTick)
	return nil
}

func (n *Node) Cleanup(s *state.State) error {
	if n.Transport == nil {
		return nil
	}
	err := n.Transport.Close()
	n.wg.Wait()
	return err
}

func (n *Node) readLoop(e *state.Env) {
	defer n.wg.Done()
	buf := make([]byte, state.MaxPacketSize)
	for {
		nr, from, err := n.Transport.ReadFrom(buf)
		if err != nil {
			if isClosed(err) || e.Context.Err() != nil {
				return
			}
			e.Log.Warn("failed to read datagram", "error", err)
			continue
		}
		perf.RecvPacketPerSecond.Add(1)
		perf.RecvBytesPerSecond.Add(float64(nr))

		if _, ok := n.allow.Lookup(from.Addr()); !ok {
			perf.DroppedPackets.Add(1)
			n.warnUnknown(e, from, "datagram from a disallowed address")
			continue
		}
		pkt, err := protocol.Decode(buf[:nr])
		if err != nil {
			perf.InvalidPackets.Add(1)
			e.Log.Debug("dropped invalid datagram", "from", from, "error", err)
			continue
		}
		if state.DBG_log_wire {
			e.Log.Debug("recv", "from", from, "pkt", pkt)
		}
		e.Dispatch(func(s *state.State) error {
			return n.handlePacket(s, from, pkt)
		})
	}
}

// warnUnknown logs at most once per address every UnknownPeerLogTTL
func (n *Node) warnUnknown(e *state.Env, from netip.AddrPort, msg string) {
	if n.unknown.Get(from) != nil {
		return
	}
	n.unknown.Set(from, struct{}{}, ttlcache.DefaultTTL)
	e.Log.Warn(msg, "from", from)
}

func (n *Node) handlePacket(s *state.State, from netip.AddrPort, pkt protocol.Packet) error {
	peer := s.GetPeerByAddr(from)
	switch pkt := pkt.(type) {
	case protocol.Ack:
		if peer == nil {
			n.warnUnknown(s.Env, from, "ack from an unknown address")
			return nil
		}
		n.HandleAck(s, peer, pkt.Seqno)
	case protocol.Data:
		if peer == nil {
			if pkt.Kind == protocol.KindHello {
				peer = n.Handler.HandleRegistration(s, from, pkt)
			}
			if peer == nil {
				perf.DroppedPackets.Add(1)
				n.warnUnknown(s.Env, from, "data from an unknown address")
				return nil
			}
		}
		if !n.AcceptData(s, peer, pkt) {
			return nil
		}
		return n.Handler.HandleData(s, peer, pkt)
	}
	return nil
}

// Send delivers d to the peer reliably. It may be called from any goroutine except the main loop,
// and blocks while the peer's window is full.
func (n *Node) Send(ctx context.Context, to state.NodeId, d protocol.Data) error {
	for {
		_, err := n.env.DispatchWait(func(s *state.State) (any, error) {
			peer := s.GetPeer(to)
			if peer == nil {
				return nil, fmt.Errorf("no session with %s", to)
			}
			if peer.Busy() {
				return nil, state.ErrWindowFull
			}
			return nil, n.transmit(s, peer, d)
		})
		if !errors.Is(err, state.ErrWindowFull) {
			return err
		}
		select {
		case <-time.After(state.WindowFullBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Node) write(s *state.State, peer *state.Peer, frame []byte) {
	if state.DBG_log_wire {
		s.Log.Debug("send", "to", peer.Id, "frame", string(frame))
	}
	if err := n.Transport.WriteTo(frame, peer.Addr); err != nil {
		if !isClosed(err) {
			s.Log.Warn("failed to send datagram", "to", peer.Id, "error", err)
		}
		return
	}
	perf.SentPacketPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(frame)))
}
