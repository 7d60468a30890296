package cli

import (
	"github.com/spf13/cobra"

	"github.com/andywolf/pyshim/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Statically scan a Python repository",
	Long: `Print modules, entry points, requirements, configs, readme and license
excerpts of a repository as JSON. Nothing is imported or executed.

dir defaults to the configured working copy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: scanRepo,
}

var entrypointsCmd = &cobra.Command{
	Use:   "entrypoints [dir]",
	Short: "List console entry points declared by a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listEntrypoints,
}

var modulesCmd = &cobra.Command{
	Use:   "modules <path>...",
	Short: "Parse selected source files",
	Long: `Parse the given repository-relative source files. Paths that do not exist
or escape the repository are skipped.

Example:
  pyshim modules uc/train.py uc/model.py
  pyshim modules --dir ./checkout src/app.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: mapModules,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(entrypointsCmd)
	rootCmd.AddCommand(modulesCmd)

	modulesCmd.Flags().String("dir", "", "repository root (default is the configured working copy)")
}

// scanTarget picks the repository root from args, falling back to the
// configured working copy.
func scanTarget(a *app, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.RepoDir()
}

func scanRepo(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := scanner.New(scanTarget(a, args), a.scannerOptions()...).Scan()
	if err != nil {
		return err
	}
	a.logger.Debugf("scanned %d modules under %s", len(res.Modules), res.RepoRoot)
	return printJSON(cmd.OutOrStdout(), res)
}

func listEntrypoints(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return printJSON(cmd.OutOrStdout(), scanner.DetectEntrypoints(scanTarget(a, args)))
}

func mapModules(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = a.cfg.RepoDir()
	}
	return printJSON(cmd.OutOrStdout(), scanner.MapModules(dir, args))
}
