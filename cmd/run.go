package cmd

import (
	"github.com/encodeous/flowsim/core"
	"github.com/encodeous/flowsim/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a controller, router or host",
	Long:  `This runs a single node of the network. The role is taken from the node config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cmd.Flag("config").Value.String()
		logPath := cmd.Flag("log").Value.String()
		verbose, _ := cmd.Flags().GetBool("verbose")
		return core.Bootstrap(cfgPath, logPath, verbose)
	},
	SilenceUsage: true,
	GroupID:      "sim",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "node.yaml", "Path to the node config")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file")
	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().BoolVarP(&state.DBG_log_wire, "lwire", "w", false, "Log every datagram sent and received, needs --verbose")
	runCmd.Flags().BoolVarP(&state.DBG_debug, "debug", "d", false, "Serve metrics on :6060")
}
