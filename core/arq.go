package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/encodeous/flowsim/perf"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
)

var ErrPacketTooLarge = errors.New("packet exceeds the maximum datagram size")

// Enqueue sends d to peer reliably from the main loop. When the window is full, d waits in the
// peer's backlog and goes out as acknowledgements free up slots.
func (n *Node) Enqueue(s *state.State, peer *state.Peer, d protocol.Data) error {
	if peer.Busy() {
		peer.Backlog = append(peer.Backlog, d)
		s.Log.Debug("window full, queued", "to", peer.Id, "kind", d.Kind, "backlog", len(peer.Backlog))
		return nil
	}
	return n.transmit(s, peer, d)
}

// transmit stamps d with the next sequence number, arms its slot and writes it once.
func (n *Node) transmit(s *state.State, peer *state.Peer, d protocol.Data) error {
	d.Seqno = peer.NextSend
	frame, err := protocol.Encode(d)
	if err != nil {
		return err
	}
	if len(frame) > state.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes to %s", ErrPacketTooLarge, len(frame), peer.Id)
	}
	if _, err = peer.Arm(frame, time.Now().Add(state.RetransmitDelay)); err != nil {
		return err
	}
	n.write(s, peer, frame)
	return nil
}

// HandleAck applies a cumulative acknowledgement and drains the backlog into the freed slots.
func (n *Node) HandleAck(s *state.State, peer *state.Peer, next uint8) {
	cleared := peer.Acknowledge(next)
	if cleared > 0 {
		perf.AckedFrames.Add(float64(cleared))
	}
	for len(peer.Backlog) > 0 && !peer.WindowFull() {
		d := peer.Backlog[0]
		peer.Backlog = peer.Backlog[1:]
		if err := n.transmit(s, peer, d); err != nil {
			s.Log.Warn("dropped queued packet", "to", peer.Id, "kind", d.Kind, "error", err)
		}
	}
}

// AcceptData acknowledges d and reports whether it is the next in-order packet. Duplicates and
// out-of-order packets are answered with the current expected sequence number and not delivered.
func (n *Node) AcceptData(s *state.State, peer *state.Peer, d protocol.Data) bool {
	accepted := peer.Accept(d.Seqno)
	frame, err := protocol.Encode(protocol.Ack{Seqno: peer.NextExpected})
	if err != nil {
		// NextExpected is always in range
		panic(err)
	}
	n.write(s, peer, frame)
	if !accepted {
		perf.DuplicatePackets.Add(1)
		s.Log.Debug("out of order packet", "from", peer.Id, "seq", d.Seqno, "expected", peer.NextExpected)
	}
	return accepted
}

// retransmitDue resends every frame whose deadline has passed, oldest first per peer. Frames are
// retried at a fixed period until acknowledged.
func (n *Node) retransmitDue(s *state.State) error {
	now := time.Now()
	for _, peer := range s.Peers {
		for _, seq := range peer.Due(now) {
			slot := peer.Window[seq]
			slot.Deadline = now.Add(state.RetransmitDelay)
			slot.Sends++
			perf.Retransmissions.Add(1)
			s.Log.Debug("retransmit", "to", peer.Id, "seq", seq, "sends", slot.Sends)
			n.write(s, peer, slot.Frame)
		}
	}
	n.unknown.DeleteExpired()
	return nil
}
