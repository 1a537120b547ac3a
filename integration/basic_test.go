//go:build integration

package integration

import (
	"context"
	"log/slog"
	"maps"
	"testing"
	"time"

	"github.com/encodeous/flowsim/core"
	"github.com/encodeous/flowsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	state.RetransmitDelay = 200 * time.Millisecond
	state.RetransmitTick = 20 * time.Millisecond
	state.WindowFullBackoff = 20 * time.Millisecond
	m.Run()
}

// lineNetwork is C0 with H1 - R1 - R2 - R3 - H3
func lineNetwork() *VirtualHarness {
	vh := NewHarness()
	vh.NewController("C0", 9000)
	vh.NewRouter("R1", 9001, "C0")
	vh.NewRouter("R2", 9002, "C0")
	vh.NewRouter("R3", 9003, "C0")
	vh.Connect("R1", "R2", 1)
	vh.Connect("R2", "R3", 1)
	vh.NewHost("H1", 9101, "R1")
	vh.NewHost("H3", 9103, "R3")
	return vh
}

func waitConverged(t *testing.T, vh *VirtualHarness, errs chan error) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for !vh.Converged("C0") {
		select {
		case err := <-errs:
			t.Fatal(err)
		case <-deadline:
			t.Fatal("timed out waiting for the network to converge")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	vh := lineNetwork()
	errs := vh.Start()
	select {
	case <-time.After(1000 * time.Millisecond):
	case err := <-errs:
		t.Error(err)
	}
	vh.Stop()
}

func TestLoneRouter(t *testing.T) {
	defer goleak.VerifyNone(t)
	vh := NewHarness()
	vh.NewController("C0", 9000)
	vh.NewRouter("R1", 9001, "C0")
	errs := vh.Start()
	defer vh.Stop()
	waitConverged(t, vh, errs)

	info, err := Inspect(vh, "C0", func(s *state.State) state.RouterInfo {
		r, _ := core.Get[*core.Controller](s).Topology.Router("R1")
		return r
	})
	require.NoError(t, err)
	assert.Equal(t, state.NodeId("R1"), info.Name)
	assert.Empty(t, info.Host)
	assert.Empty(t, info.Links)
}

func TestPingAcrossRouters(t *testing.T) {
	defer goleak.VerifyNone(t)
	vh := lineNetwork()
	vh.LogLevel = slog.LevelDebug
	errs := vh.Start()
	defer vh.Stop()
	waitConverged(t, vh, errs)

	ctx, cancel := context.WithTimeout(vh.Context, 10*time.Second)
	defer cancel()
	require.NoError(t, vh.Send(ctx, "H1", "H3", "111"))
	require.NoError(t, vh.Send(ctx, "H3", "H1", "222"))

	require.Eventually(t, func() bool {
		return len(vh.Received("H3")) == 1 && len(vh.Received("H1")) == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, "111", vh.Received("H3")[0].Payload)
	assert.Equal(t, "H1", vh.Received("H3")[0].Src)
	assert.Equal(t, "222", vh.Received("H1")[0].Payload)

	table, err := Inspect(vh, "R2", func(s *state.State) state.FlowTable {
		return maps.Clone(core.Get[*core.Router](s).FlowTable)
	})
	require.NoError(t, err)
	assert.Equal(t, state.FlowTable{"H1": "R1", "H3": "R3"}, table)
}
