package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/inference-sim/pe-runtime/hapi/hostdev" // registers the host accelerator
	"github.com/inference-sim/pe-runtime/ldb"
	_ "github.com/inference-sim/pe-runtime/ldb/strategies" // registers TreeLB and DistributedLB
)

var (
	cfgFile     string // optional YAML file supplying flag values
	logLevel    string // Log verbosity level
	metricsAddr string // Listen address for /metrics; empty disables it

	// lbArgs is shared by run and simulate; only one of them executes.
	lbArgs = ldb.DefaultArgs()
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pert",
	Short: "Processing-element runtime: accelerator offload and load balancing",
	Long: `pert drives a set of processing elements (PEs) that offload work to
accelerators through the HAPI layer and are rebalanced by pluggable load
balancing strategies. Flags may also be given in +Name form (+balancer
GreedyLB, +LBDebug 2), as PERT_* environment variables, or in --config.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindConfig(newViper(), cmd.Flags(), cfgFile); err != nil {
			return err
		}
		return setupLogging(logLevel)
	},
}

func setupLogging(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(l)
	return nil
}

// Execute runs the CLI root command
func Execute() {
	rootCmd.SetArgs(ldb.TranslateArgv(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML file with flag values (keys are flag names)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(balancersCmd)
}
