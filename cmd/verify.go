package cmd

import (
	"fmt"

	"github.com/encodeous/flowsim/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <node.yaml>...",
	Short: "Validates node configs and prints them with defaults filled in",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range args {
			cfg, err := state.ReadNodeConfig(p)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# %s is valid\n%s\n", p, out)
		}
		return nil
	},
	SilenceUsage: true,
	GroupID:      "cfg",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
