// Package vnet is an in-memory datagram network with configurable loss, duplication and latency.
// Endpoints satisfy the same contract as a UDP socket: datagrams may be dropped, duplicated or
// reordered, and are never delivered to a closed or unknown address.
package vnet

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/flowsim/state"
)

// InboxSize is the number of datagrams an endpoint buffers before dropping new ones
var InboxSize = 1024

type Link struct {
	Latency    time.Duration
	Jitter     time.Duration
	PacketLoss float64
	Duplicate  float64
	// Filter returns false to drop a datagram
	Filter func(from, to netip.AddrPort, pkt []byte) bool
}

func (l *Link) WithLatency(lat, jitter time.Duration) *Link {
	l.Latency = lat
	l.Jitter = jitter
	return l
}

func (l *Link) WithPacketLoss(loss float64) *Link {
	l.PacketLoss = loss
	return l
}

func (l *Link) WithDuplicate(dup float64) *Link {
	l.Duplicate = dup
	return l
}

func (l *Link) WithFilter(filter func(from, to netip.AddrPort, pkt []byte) bool) *Link {
	l.Filter = filter
	return l
}

type datagram struct {
	from netip.AddrPort
	data []byte
}

type Network struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	endpoints map[netip.AddrPort]*Endpoint
	links     map[state.Pair[netip.AddrPort, netip.AddrPort]]*Link
	def       *Link

	Sent    atomic.Int64
	Dropped atomic.Int64
}

func New() *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		ctx:       ctx,
		cancel:    cancel,
		endpoints: make(map[netip.AddrPort]*Endpoint),
		links:     make(map[state.Pair[netip.AddrPort, netip.AddrPort]]*Link),
		def:       &Link{},
	}
}

// Default returns the conditions applied to every pair without its own link.
// It must be configured before traffic starts.
func (n *Network) Default() *Link {
	return n.def
}

// Link returns the conditions for datagrams from -> to, creating a perfect link if none exists.
// It must be configured before traffic starts.
func (n *Network) Link(from, to netip.AddrPort) *Link {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := state.Pair[netip.AddrPort, netip.AddrPort]{V1: from, V2: to}
	l, ok := n.links[key]
	if !ok {
		l = &Link{}
		n.links[key] = l
	}
	return l
}

func (n *Network) Listen(addr netip.AddrPort) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return nil, net.ErrClosed
	}
	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("listen %s: address already in use", addr)
	}
	ep := &Endpoint{
		net:    n,
		addr:   addr,
		inbox:  make(chan datagram, InboxSize),
		closed: make(chan struct{}),
	}
	n.endpoints[addr] = ep
	return ep, nil
}

// Close stops every in-flight delivery and waits for them to exit. Endpoints must be closed by
// their owners.
func (n *Network) Close() {
	n.mu.Lock()
	n.cancel()
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Network) linkFor(from, to netip.AddrPort) *Link {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if l, ok := n.links[state.Pair[netip.AddrPort, netip.AddrPort]{V1: from, V2: to}]; ok {
		return l
	}
	return n.def
}

func (n *Network) lookup(addr netip.AddrPort) *Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[addr]
}

func (n *Network) send(from, to netip.AddrPort, pkt []byte) {
	n.Sent.Add(1)
	l := n.linkFor(from, to)
	if l.Filter != nil && !l.Filter(from, to, pkt) {
		n.Dropped.Add(1)
		return
	}
	copies := 1
	if l.Duplicate > 0 && rand.Float64() < l.Duplicate {
		copies++
	}
	for range copies {
		if rand.Float64() < l.PacketLoss {
			n.Dropped.Add(1)
			continue
		}
		if l.Latency == 0 {
			n.deliver(from, to, pkt)
			continue
		}
		delay := l.Latency
		if l.Jitter > 0 {
			delay += time.Duration(rand.Float64() * float64(l.Jitter))
		}
		n.mu.RLock()
		if n.ctx.Err() != nil {
			n.mu.RUnlock()
			return
		}
		n.wg.Add(1)
		n.mu.RUnlock()
		go func() {
			defer n.wg.Done()
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-n.ctx.Done():
			case <-t.C:
				n.deliver(from, to, pkt)
			}
		}()
	}
}

func (n *Network) deliver(from, to netip.AddrPort, pkt []byte) {
	ep := n.lookup(to)
	if ep == nil {
		n.Dropped.Add(1)
		return
	}
	select {
	case <-ep.closed:
		n.Dropped.Add(1)
	case ep.inbox <- datagram{from: from, data: pkt}:
	default:
		// inbox full
		n.Dropped.Add(1)
	}
}

// Endpoint is one bound address on a Network.
type Endpoint struct {
	net       *Network
	addr      netip.AddrPort
	inbox     chan datagram
	closed    chan struct{}
	closeOnce sync.Once
}

func (e *Endpoint) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-e.inbox:
		return copy(b, d.data), d.from, nil
	case <-e.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (e *Endpoint) WriteTo(b []byte, addr netip.AddrPort) error {
	select {
	case <-e.closed:
		return net.ErrClosed
	default:
	}
	e.net.send(e.addr, addr, slices.Clone(b))
	return nil
}

func (e *Endpoint) LocalAddr() netip.AddrPort {
	return e.addr
}

func (e *Endpoint) Close() error {
	err := net.ErrClosed
	e.closeOnce.Do(func() {
		err = nil
		close(e.closed)
		e.net.mu.Lock()
		delete(e.net.endpoints, e.addr)
		e.net.mu.Unlock()
	})
	return err
}
