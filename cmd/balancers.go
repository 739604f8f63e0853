package cmd

import (
	"github.com/spf13/cobra"

	"github.com/inference-sim/pe-runtime/ldb"
)

// balancersCmd prints the strategy catalog
var balancersCmd = &cobra.Command{
	Use:   "balancers",
	Short: "List the available load balancers",
	Run: func(cmd *cobra.Command, args []string) {
		ldb.Default.Display(cmd.OutOrStdout())
	},
}
