package state

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"sync/atomic"
)

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]Module
	Peers   []*Peer
}

func (s *State) GetPeer(id NodeId) *Peer {
	idx := slices.IndexFunc(s.Peers, func(p *Peer) bool {
		return p.Id == id
	})
	if idx == -1 {
		return nil
	}
	return s.Peers[idx]
}

func (s *State) GetPeerByAddr(addr netip.AddrPort) *Peer {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	idx := slices.IndexFunc(s.Peers, func(p *Peer) bool {
		return p.Addr == addr
	})
	if idx == -1 {
		return nil
	}
	return s.Peers[idx]
}

// AddPeer registers a new session. If a peer with the same id exists, it is returned instead.
func (s *State) AddPeer(id NodeId, role Role, addr netip.AddrPort) *Peer {
	if p := s.GetPeer(id); p != nil {
		return p
	}
	p := NewPeer(id, role, addr)
	s.Peers = append(s.Peers, p)
	return p
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	NodeCfg
	// RunId distinguishes restarts of the same node in logs
	RunId    string
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Started  atomic.Bool
	Stopping atomic.Bool
}
