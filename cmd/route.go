package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/encodeous/flowsim/core"
	"github.com/encodeous/flowsim/protocol"
	"github.com/encodeous/flowsim/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var routeCmd = &cobra.Command{
	Use:   "route <features.yaml>",
	Short: "Computes flow tables offline from a list of feature replies",
	Long: `Reads a YAML list of feature reply payloads, in the order the controller would receive them,
and prints the flow table the controller would push to each router. For example:

  - R1H1R201R305
  - R2H2R101`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		topo, err := parseTopology(file)
		if err != nil {
			return err
		}
		only := cmd.Flag("router").Value.String()
		return printFlowTables(cmd.OutOrStdout(), topo, state.NodeId(only))
	},
	SilenceUsage: true,
	GroupID:      "cfg",
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringP("router", "r", "", "Only compute the table for this router")
}

func parseTopology(file []byte) (*state.Topology, error) {
	var payloads []string
	if err := yaml.Unmarshal(file, &payloads); err != nil {
		return nil, err
	}
	topo := state.NewTopology()
	for _, p := range payloads {
		f, err := protocol.DecodeFeatureReply(p)
		if err != nil {
			return nil, err
		}
		if !topo.AddRouter(state.RouterInfoFromFeatures(f)) {
			return nil, fmt.Errorf("router %s is declared twice", f.Router)
		}
	}
	return topo, nil
}

func printFlowTables(w io.Writer, topo *state.Topology, only state.NodeId) error {
	found := false
	for _, r := range topo.Routers() {
		if only != "" && r.Name != only {
			continue
		}
		found = true
		entries, _ := core.ComputeFlowTable(topo, r.Name)
		payload, err := protocol.EncodeFlowMod(entries)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s FLWMD %q\n", r.Name, payload)
		for _, e := range entries {
			fmt.Fprintf(w, "  %s -> %s\n", e.Host, e.NextHop)
		}
	}
	if !found && only != "" {
		return fmt.Errorf("router %s is not declared", only)
	}
	return nil
}
