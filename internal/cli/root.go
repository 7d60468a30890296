package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/pyshim/internal/config"
	"github.com/andywolf/pyshim/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pyshim",
	Short: "pyshim - inspect and drive a Python repository without importing it",
	Long: `pyshim keeps a local clone of a Python repository, statically scans it
(modules, entry points, requirements, configs) and runs its commands with
bounded timeouts, either from the command line or over a small HTTP API.

Example:
  pyshim clone
  pyshim scan
  pyshim serve --addr 127.0.0.1:8000`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pyshim.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pyshim")
	}

	// PYSHIM_REPOSITORY_URL overrides repository.url, and so on.
	viper.SetEnvPrefix("PYSHIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
