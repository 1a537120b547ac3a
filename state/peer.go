package state

import (
	"errors"
	"net/netip"
	"time"

	"github.com/encodeous/flowsim/protocol"
)

var ErrWindowFull = errors.New("send window is full")

type NodeId string

type Role string

const (
	RoleHost       Role = "host"
	RoleRouter     Role = "router"
	RoleController Role = "controller"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleRouter, RoleController:
		return true
	}
	return false
}

// Slot is an in-flight frame waiting for an acknowledgement.
type Slot struct {
	Frame    []byte
	Deadline time.Time
	Sends    int
}

// Peer is the session with one remote node. It is owned by the main loop.
type Peer struct {
	Id   NodeId
	Role Role
	Addr netip.AddrPort

	NextSend     uint8
	NextExpected uint8
	Window       [protocol.SeqSpace]*Slot
	WindowSize   int

	// Backlog holds frames queued from the main loop while the window was full, oldest first.
	Backlog []protocol.Data
}

func NewPeer(id NodeId, role Role, addr netip.AddrPort) *Peer {
	return &Peer{
		Id:   id,
		Role: role,
		Addr: netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
	}
}

func (p *Peer) WindowFull() bool {
	return p.WindowSize >= MaxWindow
}

// Busy reports whether a new frame would have to wait, either for window space or behind the backlog.
func (p *Peer) Busy() bool {
	return p.WindowFull() || len(p.Backlog) > 0
}

// Arm stores frame in the slot for NextSend and advances NextSend. The frame must already carry
// the NextSend sequence number.
func (p *Peer) Arm(frame []byte, deadline time.Time) (uint8, error) {
	if p.WindowFull() {
		return 0, ErrWindowFull
	}
	seq := p.NextSend
	p.Window[seq] = &Slot{
		Frame:    frame,
		Deadline: deadline,
		Sends:    1,
	}
	p.WindowSize++
	p.NextSend = (seq + 1) % protocol.SeqSpace
	return seq, nil
}

// Acknowledge applies a cumulative ACK carrying next, the receiver's next expected sequence number.
// Slots are cleared walking backward from next-1 until the first empty slot. It returns the number
// of cleared slots.
func (p *Peer) Acknowledge(next uint8) int {
	cleared := 0
	seq := (next + protocol.SeqSpace - 1) % protocol.SeqSpace
	for p.Window[seq] != nil {
		p.Window[seq] = nil
		p.WindowSize--
		cleared++
		seq = (seq + protocol.SeqSpace - 1) % protocol.SeqSpace
	}
	return cleared
}

// Accept reports whether seq is the next in-order sequence number, advancing NextExpected if so.
// Either way, NextExpected afterward is the number to acknowledge with.
func (p *Peer) Accept(seq uint8) bool {
	if seq != p.NextExpected {
		return false
	}
	p.NextExpected = (p.NextExpected + 1) % protocol.SeqSpace
	return true
}

// Due returns the sequence numbers of slots whose deadline has passed, oldest first.
func (p *Peer) Due(now time.Time) []uint8 {
	if p.WindowSize == 0 {
		return nil
	}
	var due []uint8
	for i := 1; i <= protocol.SeqSpace; i++ {
		seq := uint8((int(p.NextSend) + i) % protocol.SeqSpace)
		slot := p.Window[seq]
		if slot != nil && !now.Before(slot.Deadline) {
			due = append(due, seq)
		}
	}
	return due
}

// InFlight returns the sequence numbers of occupied slots, oldest first.
func (p *Peer) InFlight() []uint8 {
	var seqs []uint8
	for i := 1; i <= protocol.SeqSpace; i++ {
		seq := uint8((int(p.NextSend) + i) % protocol.SeqSpace)
		if p.Window[seq] != nil {
			seqs = append(seqs, seq)
		}
	}
	return seqs
}
