//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/encodeous/flowsim/state"
	"github.com/testcontainers/testcontainers-go"
	tcnetwork "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ImageName   = "busybox:1.37-glibc"
	NodePort    = 9000
	WaitTimeout = 2 * time.Minute
)

// Harness runs every node of a network in its own container, talking real UDP over a docker bridge
type Harness struct {
	t          *testing.T
	mu         sync.Mutex
	ctx        context.Context
	Network    *testcontainers.DockerNetwork
	Nodes      map[state.NodeId]testcontainers.Container
	LogManager *LogManager
	Subnet     netip.Prefix
	Dir        string
}

// NewHarness creates a test harness on its own docker subnet
func NewHarness(t *testing.T, subnet string, gateway string) *Harness {
	ctx := context.Background()
	newNetwork, err := tcnetwork.New(ctx,
		tcnetwork.WithAttachable(),
		tcnetwork.WithDriver("bridge"),
		tcnetwork.WithIPAM(&network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{
				{
					Subnet:  subnet,
					Gateway: gateway,
				},
			},
		}))
	if err != nil {
		t.Fatal(err)
	}
	h := &Harness{
		t:          t,
		ctx:        ctx,
		Network:    newNetwork,
		Nodes:      make(map[state.NodeId]testcontainers.Container),
		LogManager: NewLogManager(),
		Subnet:     netip.MustParsePrefix(subnet),
		Dir:        t.TempDir(),
	}
	t.Cleanup(func() {
		h.Cleanup()
	})
	return h
}

// Addr returns the address of the n-th host of the subnet
func (h *Harness) Addr(n int) netip.AddrPort {
	a := h.Subnet.Addr()
	for range n {
		a = a.Next()
	}
	return netip.AddrPortFrom(a, NodePort)
}

// NodeCfg fills in what every containerized node needs: a wildcard bind and the docker subnet as
// the only allowed source
func (h *Harness) NodeCfg(cfg state.NodeCfg) state.NodeCfg {
	cfg.Bind = netip.AddrPortFrom(netip.IPv4Unspecified(), NodePort)
	cfg.Allow = []netip.Prefix{h.Subnet}
	return cfg
}

func (h *Harness) StartNodes(ip map[state.NodeId]netip.AddrPort, cfgs ...state.NodeCfg) {
	var wg sync.WaitGroup
	wg.Add(len(cfgs))
	for _, cfg := range cfgs {
		go func() {
			defer wg.Done()
			h.StartNode(cfg, ip[cfg.Id].Addr())
		}()
	}
	wg.Wait()
}

func (h *Harness) StartNode(cfg state.NodeCfg, ip netip.Addr) testcontainers.Container {
	h.t.Logf("Starting node %s at %s", cfg.Id, ip)
	cfgPath := filepath.Join(h.Dir, string(cfg.Id)+".yaml")
	if err := state.WriteNodeConfig(cfgPath, &cfg); err != nil {
		h.t.Fatal(err)
	}
	name := string(cfg.Id)
	req := testcontainers.ContainerRequest{
		Image:    ImageName,
		Networks: []string{h.Network.Name},
		NetworkAliases: map[string][]string{
			h.Network.Name: {name},
		},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      binaryPath,
				ContainerFilePath: "/flowsim",
				FileMode:          0755,
			},
			{
				HostFilePath:      cfgPath,
				ContainerFilePath: "/node.yaml",
				FileMode:          0644,
			},
		},
		Cmd:        []string{"/flowsim", "run", "-c", "/node.yaml", "-v"},
		WaitingFor: wait.ForLog("node has been initialized").WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hostConfig *container.HostConfig) {
			// a node is an ordinary unprivileged UDP process
			hostConfig.CapDrop = []string{"ALL"}
		},
		EndpointSettingsModifier: func(m map[string]*network.EndpointSettings) {
			if s, ok := m[h.Network.Name]; ok {
				s.IPAMConfig = &network.EndpointIPAMConfig{
					IPv4Address: ip.String(),
				}
			}
		},
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{
				&UnifiedLogConsumer{Node: name, Manager: h.LogManager},
			},
		},
		Name: h.t.Name() + "-" + name,
	}
	cont, err := testcontainers.GenericContainer(h.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		h.t.Fatalf("failed to start container %s: %v", name, err)
	}
	h.mu.Lock()
	h.Nodes[cfg.Id] = cont
	h.mu.Unlock()
	return cont
}

func (h *Harness) WaitForLog(node state.NodeId, pattern string) {
	h.WaitForMatch(node, regexp.QuoteMeta(pattern))
}

func (h *Harness) WaitForMatch(node state.NodeId, pattern string) {
	w, done := h.LogManager.Wait(string(node), regexp.MustCompile(pattern))
	defer done()

	select {
	case <-w.matched:
		return
	case <-time.After(WaitTimeout):
		h.PrintLogs(node)
		h.t.Fatalf("timed out waiting for pattern %q in node %s", pattern, node)
	case <-h.ctx.Done():
		h.t.Fatal("context canceled")
	}
}

func (h *Harness) Exec(node state.NodeId, cmd []string) (string, string, error) {
	h.mu.Lock()
	c, ok := h.Nodes[node]
	h.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("node %s not found", node)
	}

	code, r, err := c.Exec(h.ctx, cmd)
	if err != nil {
		return "", "", err
	}
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)
	// Demultiplex the stream using stdcopy
	if _, err = stdcopy.StdCopy(stdoutBuf, stderrBuf, r); err != nil {
		return "", "", fmt.Errorf("failed to copy output: %w", err)
	}
	stdout := StripAnsi(stdoutBuf.String())
	stderr := StripAnsi(stderrBuf.String())
	if code != 0 {
		return stdout, stderr, fmt.Errorf("command exited with code %d: %s\nStderr: %s", code, stdout, stderr)
	}
	return stdout, stderr, nil
}

func (h *Harness) PrintLogs(node state.NodeId) {
	h.t.Logf("Logs for %s:\n%s", node, h.LogManager.History(string(node)))
}

func (h *Harness) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, c := range h.Nodes {
		if err := c.Terminate(h.ctx); err != nil {
			h.t.Logf("failed to terminate container %s: %v", name, err)
		}
	}
	if err := h.Network.Remove(context.Background()); err != nil {
		h.t.Logf("failed to remove network: %v", err)
	}
}
