package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jorjiiie/2f2f/cmd/bench"
	"github.com/jorjiiie/2f2f/cmd/util"
	kvutil "github.com/jorjiiie/2f2f/lib/kv/util"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "2f2f",
		Short: "concurrent in-memory key-value store",
		Long: fmt.Sprintf(`2f2f (v%s)

A concurrent in-memory key-value store library in the FASTER style:
lock-free bucket lists with epoch-based memory reclamation and
thread-local pool allocation.`, Version),
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of 2f2f",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("2f2f v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level to use (debug, info, warn, error)"))
}

// setup binds flags and configures logging before any subcommand runs
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	kvutil.InitLoggers(viper.GetString("log-level"))
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
