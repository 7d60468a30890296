package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/scanner"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show --help output of a repository module or entry point",
	Long: `Run a module or entry point of the working copy with --help and print the
captured result.

Example:
  pyshim usage --module uc.train
  pyshim usage --entry "uc-train = uc.cli:main"`,
	Args: cobra.NoArgs,
	RunE: showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().String("module", "", "dotted module name to run with -m")
	usageCmd.Flags().String("entry", "", `entry point ("name = pkg.mod:func" or "pkg.mod:func")`)
	usageCmd.Flags().String("dir", "", "repository root (default is the configured working copy)")
}

func showUsage(cmd *cobra.Command, args []string) error {
	module, _ := cmd.Flags().GetString("module")
	entry, _ := cmd.Flags().GetString("entry")
	if module == "" && entry == "" {
		return fmt.Errorf("provide --entry or --module")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = a.cfg.RepoDir()
	}
	helper := scanner.NewHelper(runner.New(), a.cfg.Runner.HelpDuration())
	res := helper.Help(context.Background(), dir, module, entry, a.cfg.Runner.Python)
	return printJSON(cmd.OutOrStdout(), res)
}
