package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/scanner"
	"github.com/andywolf/pyshim/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the scan, run and training endpoints for the configured repository.

The repository is not cloned on startup; call GET /api/clone first.

Example:
  pyshim serve --addr 0.0.0.0:8000`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fetcher, err := a.fetcher(ctx)
	if err != nil {
		return err
	}

	cfg := a.cfg
	r := runner.New()
	srv := server.New(
		server.WithRepoDir(fetcher.Dir()),
		server.WithDataDir(cfg.Runner.DataDir),
		server.WithConfigsDir(cfg.Runner.ConfigsDir),
		server.WithPython(cfg.Runner.Python),
		server.WithRunTimeout(cfg.Runner.RunDuration()),
		server.WithSyncer(fetcher),
		server.WithScannerOptions(a.scannerOptions()...),
		server.WithRunner(r),
		server.WithHelper(scanner.NewHelper(r, cfg.Runner.HelpDuration())),
		server.WithLogger(a.logger),
	)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
