package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var (
	ctlAddr = netip.MustParseAddrPort("127.0.0.1:9000")
	r1Addr  = netip.MustParseAddrPort("127.0.0.1:9001")
	r2Addr  = netip.MustParseAddrPort("127.0.0.1:9002")
	r3Addr  = netip.MustParseAddrPort("127.0.0.1:9003")
	h1Addr  = netip.MustParseAddrPort("127.0.0.1:9101")
	h2Addr  = netip.MustParseAddrPort("127.0.0.1:9102")
)

// Frame is one datagram written by the node under test, with the terminator shown as "|".
type Frame struct {
	To   netip.AddrPort
	Data string
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s", f.To, f.Data)
}

func MakeFrame(to netip.AddrPort, data string) Frame {
	return Frame{To: to, Data: data}
}

type Frames []Frame

func (f Frames) String() string {
	out := make([]string, 0, len(f))
	for _, x := range f {
		out = append(out, x.String())
	}
	return strings.Join(out, "\n")
}

// RecordingTransport captures every datagram a node writes. Reads block until Close.
type RecordingTransport struct {
	Addr   netip.AddrPort
	mu     sync.Mutex
	frames Frames
	closed chan struct{}
	once   sync.Once
}

func NewRecordingTransport(addr netip.AddrPort) *RecordingTransport {
	return &RecordingTransport{Addr: addr, closed: make(chan struct{})}
}

func (r *RecordingTransport) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	<-r.closed
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (r *RecordingTransport) WriteTo(b []byte, addr netip.AddrPort) error {
	select {
	case <-r.closed:
		return net.ErrClosed
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data := strings.ReplaceAll(string(b), string(protocol.Terminator), "|")
	r.frames = append(r.frames, Frame{To: addr, Data: data})
	return nil
}

func (r *RecordingTransport) LocalAddr() netip.AddrPort {
	return r.Addr
}

func (r *RecordingTransport) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// Take returns every frame written since the last call.
func (r *RecordingTransport) Take() Frames {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.frames
	r.frames = nil
	return f
}

func (r *RecordingTransport) AssertFrames(t *testing.T, expected ...Frame) {
	t.Helper()
	got := r.Take()
	if diff := cmp.Diff(Frames(expected), got, cmpopts.EquateComparable(netip.AddrPort{})); diff != "" {
		t.Fatalf("unexpected frames (-want +got):\n%s\ngot:\n%s", diff, got)
	}
}

// newTestNode initializes every module of a node without running its main loop. The test drives
// the node by calling into it on the test goroutine, which then acts as the main loop.
func newTestNode(t *testing.T, cfg state.NodeCfg) (*state.State, *RecordingTransport) {
	t.Helper()
	state.ExpandNodeConfig(&cfg)
	require.NoError(t, state.NodeConfigValidator(&cfg))

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: make(chan func(*state.State) error, 1024),
			NodeCfg:         cfg,
			Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
	rec := NewRecordingTransport(cfg.Bind)
	require.NoError(t, initModules(s, rec))
	t.Cleanup(func() { Stop(s) })
	return s, rec
}

// deliver feeds pkt to the node as if it had been read from the wire
func deliver(t *testing.T, s *state.State, from netip.AddrPort, pkt protocol.Packet) {
	t.Helper()
	require.NoError(t, Get[*Node](s).handlePacket(s, from, pkt))
}

func controllerCfg() state.NodeCfg {
	return state.NodeCfg{
		Id:   "C0",
		Role: state.RoleController,
		Bind: ctlAddr,
	}
}

func routerCfg() state.NodeCfg {
	return state.NodeCfg{
		Id:         "R1",
		Role:       state.RoleRouter,
		Bind:       r1Addr,
		Controller: &state.Endpoint{Id: "C0", Addr: ctlAddr},
		Host:       &state.Endpoint{Id: "H1", Addr: h1Addr},
		Neighbours: []state.NeighbourCfg{
			{Endpoint: state.Endpoint{Id: "R2", Addr: r2Addr}, Distance: 1},
			{Endpoint: state.Endpoint{Id: "R3", Addr: r3Addr}, Distance: 7},
		},
	}
}

func hostCfg() state.NodeCfg {
	return state.NodeCfg{
		Id:        "H1",
		Role:      state.RoleHost,
		Bind:      h1Addr,
		Router:    &state.Endpoint{Id: "R1", Addr: r1Addr},
		Hosts:     []state.NodeId{"H1", "H2"},
		NoTraffic: true,
	}
}

func data(seq uint8, kind protocol.Kind, src, dst, payload string) protocol.Data {
	return protocol.Data{Seqno: seq, Kind: kind, Src: src, Dst: dst, Payload: payload}
}
