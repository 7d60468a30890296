package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andywolf/pyshim/internal/repo"
	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/security"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <args>...",
	Short: "Run the repository's __main__ module",
	Long: `Run "python -m __main__ <args>" inside the working copy with a bounded
timeout and print the captured result.

Config files given with --config-file are copied into the configs directory
first, so args can refer to them.

Example:
  pyshim run -- train --config data/configs/train.yaml
  pyshim run --env CUDA_VISIBLE_DEVICES=0 --timeout 30m -- eval`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMain,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringToString("env", nil, "extra environment variables (KEY=VALUE)")
	runCmd.Flags().StringToString("config-file", nil, "config files to write, as name=local-path")
	runCmd.Flags().Duration("timeout", 0, "run timeout (default runner.run_timeout)")
}

func runMain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.cfg.RepoDir()
	if !repo.Present(dir) {
		return fmt.Errorf("repository not found at %s; run `pyshim clone` first", dir)
	}

	validator := security.NewCommandValidator()
	if err := validator.ValidateArgs(args); err != nil {
		return err
	}
	env, _ := cmd.Flags().GetStringToString("env")
	for key := range env {
		if err := validator.ValidateEnvKey(key); err != nil {
			return err
		}
	}

	files, _ := cmd.Flags().GetStringToString("config-file")
	if len(files) > 0 {
		contents, err := readConfigFiles(files)
		if err != nil {
			return err
		}
		written, err := runner.WriteConfigs(a.cfg.Runner.ConfigsDir, contents)
		if err != nil {
			return err
		}
		for _, path := range written {
			a.logger.Infof("wrote %s", path)
		}
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = a.cfg.Runner.RunDuration()
	}
	python := a.cfg.Runner.Python
	if python == "" {
		python = runner.DetectPython()
	}

	res := runner.New().Run(ctx, runner.MainCommand(python, dir, args, env, timeout))
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("command exited with status %d", res.ExitCode)
	}
	return nil
}

// readConfigFiles loads name=path pairs as verbatim file contents keyed by
// name; a name without an extension takes the source file's.
func readConfigFiles(files map[string]string) (map[string]any, error) {
	contents := make(map[string]any, len(files))
	for name, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if filepath.Ext(name) == "" {
			name += filepath.Ext(path)
		}
		contents[name] = string(data)
	}
	return contents, nil
}
