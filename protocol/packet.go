package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire layout, all ASCII at fixed offsets:
//
//	ACK: [0:3]="ACK" [3:5]=seqno
//	SND: [0:3]="SND" [3:5]=seqno [5:10]=kind [10:12]=src [12:14]=dst [14:t]=payload, t = terminator
const (
	TagAck = "ACK"
	TagSnd = "SND"

	// Terminator marks the end of a SND payload.
	Terminator byte = '\u0003'

	// SeqSpace is the size of the modular sequence space.
	SeqSpace = 16

	// NoName fills an id field that does not name a node.
	NoName = "00"

	AckLen    = 5
	HeaderLen = 14
	NameLen   = 2
)

var ErrInvalidPacket = errors.New("invalid packet")

type Kind string

const (
	KindHello       Kind = "HELLO"
	KindFeatureReq  Kind = "FETRQ"
	KindFeatureResp Kind = "FETRP"
	KindPacketIn    Kind = "PACIN"
	KindFlowMod     Kind = "FLWMD"
)

func (k Kind) Valid() bool {
	switch k {
	case KindHello, KindFeatureReq, KindFeatureResp, KindPacketIn, KindFlowMod:
		return true
	}
	return false
}

// Packet is either an Ack or a Data.
type Packet interface {
	Seq() uint8
	isPacket()
}

type Ack struct {
	Seqno uint8
}

func (a Ack) Seq() uint8 { return a.Seqno }
func (Ack) isPacket()    {}

func (a Ack) String() string {
	return fmt.Sprintf("ACK(%d)", a.Seqno)
}

type Data struct {
	Seqno   uint8
	Kind    Kind
	Src     string
	Dst     string
	Payload string
}

func (d Data) Seq() uint8 { return d.Seqno }
func (Data) isPacket()    {}

func (d Data) String() string {
	return fmt.Sprintf("SND(%d %s %s->%s %q)", d.Seqno, d.Kind, d.Src, d.Dst, d.Payload)
}

// IsFlowRequest reports whether d is the empty PACIN a router sends to ask for a new flow table.
func (d Data) IsFlowRequest() bool {
	return d.Kind == KindPacketIn && d.Payload == ""
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPacket, fmt.Sprintf(format, args...))
}

func decodeSeqno(b []byte) (uint8, error) {
	if b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return 0, invalid("non-numeric sequence %q", b)
	}
	n := (b[0]-'0')*10 + (b[1] - '0')
	if n >= SeqSpace {
		return 0, invalid("sequence %d out of range", n)
	}
	return n, nil
}

// Decode parses one datagram. Bytes after an ACK and after the SND terminator are ignored.
func Decode(b []byte) (Packet, error) {
	if len(b) < AckLen {
		return nil, invalid("short datagram (%d bytes)", len(b))
	}
	switch string(b[:3]) {
	case TagAck:
		seq, err := decodeSeqno(b[3:5])
		if err != nil {
			return nil, err
		}
		return Ack{Seqno: seq}, nil
	case TagSnd:
	default:
		return nil, invalid("unknown tag %q", b[:3])
	}

	if len(b) < HeaderLen+1 {
		return nil, invalid("short data datagram (%d bytes)", len(b))
	}
	seq, err := decodeSeqno(b[3:5])
	if err != nil {
		return nil, err
	}
	kind := Kind(b[5:10])
	if !kind.Valid() {
		return nil, invalid("unknown kind %q", string(kind))
	}
	end := -1
	for i := HeaderLen; i < len(b); i++ {
		if b[i] == Terminator {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, invalid("missing terminator")
	}
	return Data{
		Seqno:   seq,
		Kind:    kind,
		Src:     string(b[10:12]),
		Dst:     string(b[12:14]),
		Payload: string(b[HeaderLen:end]),
	}, nil
}

func appendSeqno(b []byte, seq uint8) []byte {
	if seq < 10 {
		b = append(b, '0')
	}
	return strconv.AppendUint(b, uint64(seq), 10)
}

// Validate checks that d can be framed.
func (d Data) Validate() error {
	if d.Seqno >= SeqSpace {
		return invalid("sequence %d out of range", d.Seqno)
	}
	if !d.Kind.Valid() {
		return invalid("unknown kind %q", string(d.Kind))
	}
	if len(d.Src) != NameLen || len(d.Dst) != NameLen {
		return invalid("ids must be %d bytes, got %q and %q", NameLen, d.Src, d.Dst)
	}
	if strings.IndexByte(d.Payload, Terminator) != -1 {
		return invalid("payload contains the terminator")
	}
	return nil
}

// Encode frames p. The round trip Decode(Encode(p)) == p holds for every p that encodes without error.
func Encode(p Packet) ([]byte, error) {
	switch p := p.(type) {
	case Ack:
		if p.Seqno >= SeqSpace {
			return nil, invalid("sequence %d out of range", p.Seqno)
		}
		return appendSeqno([]byte(TagAck), p.Seqno), nil
	case Data:
		if err := p.Validate(); err != nil {
			return nil, err
		}
		b := make([]byte, 0, HeaderLen+len(p.Payload)+1)
		b = append(b, TagSnd...)
		b = appendSeqno(b, p.Seqno)
		b = append(b, string(p.Kind)...)
		b = append(b, p.Src...)
		b = append(b, p.Dst...)
		b = append(b, p.Payload...)
		return append(b, Terminator), nil
	}
	return nil, invalid("unsupported packet type %T", p)
}
