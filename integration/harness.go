//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/flowsim/core"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/encodeous/flowsim/vnet"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// VirtualHarness runs a whole network of nodes in one process over a vnet.Network
type VirtualHarness struct {
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Nodes    []state.NodeCfg
	Net      *vnet.Network
	LogLevel slog.Level

	mu     sync.Mutex
	states map[state.NodeId]*state.State
	wg     sync.WaitGroup
}

func NewHarness() *VirtualHarness {
	return &VirtualHarness{
		Net:      vnet.New(),
		LogLevel: slog.LevelInfo,
		states:   make(map[state.NodeId]*state.State),
	}
}

func addr(port int) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))
}

func (v *VirtualHarness) Node(id state.NodeId) *state.NodeCfg {
	idx := slices.IndexFunc(v.Nodes, func(cfg state.NodeCfg) bool {
		return cfg.Id == id
	})
	if idx == -1 {
		panic(fmt.Sprintf("no node %s", id))
	}
	return &v.Nodes[idx]
}

func (v *VirtualHarness) Addr(id state.NodeId) netip.AddrPort {
	return v.Node(id).Bind
}

func (v *VirtualHarness) endpoint(id state.NodeId) *state.Endpoint {
	return &state.Endpoint{Id: id, Addr: v.Addr(id)}
}

func (v *VirtualHarness) NewController(id state.NodeId, port int) {
	v.Nodes = append(v.Nodes, state.NodeCfg{Id: id, Role: state.RoleController, Bind: addr(port)})
}

func (v *VirtualHarness) NewRouter(id state.NodeId, port int, controller state.NodeId) {
	v.Nodes = append(v.Nodes, state.NodeCfg{
		Id:         id,
		Role:       state.RoleRouter,
		Bind:       addr(port),
		Controller: v.endpoint(controller),
	})
}

// NewHost attaches a host to router. Hosts do not generate traffic on their own, tests send it.
func (v *VirtualHarness) NewHost(id state.NodeId, port int, router state.NodeId) {
	v.Nodes = append(v.Nodes, state.NodeCfg{
		Id:        id,
		Role:      state.RoleHost,
		Bind:      addr(port),
		Router:    v.endpoint(router),
		NoTraffic: true,
	})
	v.Node(router).Host = v.endpoint(id)
}

// Connect declares a bidirectional link between two routers
func (v *VirtualHarness) Connect(a, b state.NodeId, distance int) {
	ra, rb := v.Node(a), v.Node(b)
	ra.Neighbours = append(ra.Neighbours, state.NeighbourCfg{Endpoint: *v.endpoint(b), Distance: distance})
	rb.Neighbours = append(rb.Neighbours, state.NeighbourCfg{Endpoint: *v.endpoint(a), Distance: distance})
}

// Link returns the conditions of datagrams flowing from -> to
func (v *VirtualHarness) Link(from, to state.NodeId) *vnet.Link {
	return v.Net.Link(v.Addr(from), v.Addr(to))
}

var startOrder = map[state.Role]int{
	state.RoleController: 0,
	state.RoleHost:       1,
	state.RoleRouter:     2,
}

// Start runs the controller, then the hosts, then the routers, and waits for each main loop to start
// before starting the next node.
func (v *VirtualHarness) Start() chan error {
	ctx, cancel := context.WithCancelCause(context.Background())
	v.Context = ctx
	v.Cancel = cancel
	errChan := make(chan error, 128) // a large number so we dont get blocked

	nodes := slices.Clone(v.Nodes)
	slices.SortStableFunc(nodes, func(a, b state.NodeCfg) int {
		return startOrder[a.Role] - startOrder[b.Role]
	})
	for _, cfg := range nodes {
		ep, err := v.Net.Listen(cfg.Bind)
		if err != nil {
			errChan <- err
			return errChan
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			labels := pprof.Labels("flowsim node", string(cfg.Id))
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				cErr := core.Start(ctx, cfg, v.LogLevel, ep, func(s *state.State) {
					v.mu.Lock()
					v.states[cfg.Id] = s
					v.mu.Unlock()
				})
				if cErr != nil {
					errChan <- fmt.Errorf("node %s: %w", cfg.Id, cErr)
				}
			})
		}()
		for !v.started(cfg.Id) {
			select {
			case <-ctx.Done():
				return errChan
			case <-time.After(time.Millisecond * 10):
			case err := <-errChan:
				errChan <- err
				return errChan
			}
		}
	}
	return errChan
}

func (v *VirtualHarness) started(id state.NodeId) bool {
	s := v.State(id)
	return s != nil && s.Started.Load()
}

func (v *VirtualHarness) State(id state.NodeId) *state.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[id]
}

func (v *VirtualHarness) Stop() {
	println("Stopping VirtualHarness")
	v.Cancel(fmt.Errorf("stopping harness"))
	v.wg.Wait()
	v.Net.Close()
	println("Stopped VirtualHarness")
}

// Inspect runs fun on the main loop of node id
func Inspect[T any](v *VirtualHarness, id state.NodeId, fun func(s *state.State) T) (T, error) {
	res, err := v.State(id).DispatchWait(func(s *state.State) (any, error) {
		return fun(s), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Send sends a data packet from host src to host dst
func (v *VirtualHarness) Send(ctx context.Context, src, dst state.NodeId, payload string) error {
	h, err := Inspect(v, src, func(s *state.State) *core.Host {
		return core.Get[*core.Host](s)
	})
	if err != nil {
		return err
	}
	return h.Send(ctx, dst, payload)
}

// Received returns the packets host id has received so far
func (v *VirtualHarness) Received(id state.NodeId) []protocol.Data {
	res, err := Inspect(v, id, func(s *state.State) []protocol.Data {
		return slices.Clone(core.Get[*core.Host](s).Received)
	})
	if err != nil {
		return nil
	}
	return res
}

// Converged reports whether the controller knows every router and every router has finished setup
// with its host connected
func (v *VirtualHarness) Converged(controller state.NodeId) bool {
	routers := 0
	for _, cfg := range v.Nodes {
		if cfg.Role != state.RoleRouter {
			continue
		}
		routers++
		ok, err := Inspect(v, cfg.Id, func(s *state.State) bool {
			r := core.Get[*core.Router](s)
			return r.SetupComplete && (s.Host == nil || r.HostConnected)
		})
		if err != nil || !ok {
			return false
		}
	}
	known, err := Inspect(v, controller, func(s *state.State) int {
		return len(core.Get[*core.Controller](s).Topology.Routers())
	})
	return err == nil && known == routers
}
