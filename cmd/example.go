package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/encodeous/flowsim/state"
	"github.com/spf13/cobra"
)

var exampleCmd = &cobra.Command{
	Use:   "example <dir>",
	Short: "Writes the node configs of a sample network",
	Long: `Writes one config per node for a network of a controller, four routers and three hosts on loopback:

  H1 - R1 --1-- R2 --1-- R3 - H2
        \______5______/  |
                         2
                         |
                    H3 - R4

Start the controller first, then the hosts, then the routers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
		for _, cfg := range exampleNetwork(state.DefaultControllerPort) {
			p := filepath.Join(dir, fmt.Sprintf("%s.yaml", cfg.Id))
			if err := state.WriteNodeConfig(p, &cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%s)\n", p, cfg.Role)
		}
		return nil
	},
	SilenceUsage: true,
	GroupID:      "cfg",
}

func init() {
	rootCmd.AddCommand(exampleCmd)
}

func exampleNetwork(base int) []state.NodeCfg {
	loopback := netip.MustParseAddr("127.0.0.1")
	ep := func(id state.NodeId, offset int) *state.Endpoint {
		return &state.Endpoint{Id: id, Addr: netip.AddrPortFrom(loopback, uint16(base+offset))}
	}
	nb := func(id state.NodeId, offset, dist int) state.NeighbourCfg {
		return state.NeighbourCfg{Endpoint: *ep(id, offset), Distance: dist}
	}
	ctl := ep("C0", 0)
	r1, r2, r3, r4 := ep("R1", 1), ep("R2", 2), ep("R3", 3), ep("R4", 4)
	h1, h2, h3 := ep("H1", 101), ep("H2", 102), ep("H3", 103)
	hosts := []state.NodeId{h1.Id, h2.Id, h3.Id}

	router := func(self *state.Endpoint, host *state.Endpoint, neighbours ...state.NeighbourCfg) state.NodeCfg {
		return state.NodeCfg{
			Id:         self.Id,
			Role:       state.RoleRouter,
			Bind:       self.Addr,
			Controller: ctl,
			Host:       host,
			Neighbours: neighbours,
		}
	}
	host := func(self *state.Endpoint, router *state.Endpoint) state.NodeCfg {
		return state.NodeCfg{
			Id:     self.Id,
			Role:   state.RoleHost,
			Bind:   self.Addr,
			Router: router,
			Hosts:  hosts,
		}
	}

	return []state.NodeCfg{
		{Id: ctl.Id, Role: state.RoleController, Bind: ctl.Addr},
		router(r1, h1, nb("R2", 2, 1), nb("R3", 3, 5)),
		router(r2, nil, nb("R1", 1, 1), nb("R3", 3, 1)),
		router(r3, h2, nb("R2", 2, 1), nb("R1", 1, 5), nb("R4", 4, 2)),
		router(r4, h3, nb("R3", 3, 2)),
		host(h1, r1),
		host(h2, r3),
		host(h3, r4),
	}
}
