package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Clone the repository, or pull if it is already present",
	Long: `Clone the configured repository into <repos_dir>/<name>, or fast-forward
an existing working copy.

Private repositories authenticate with, in order: the token in
repository.token_env, the Secret Manager secret repository.token_secret,
or a GitHub App installation token.

Example:
  pyshim clone
  PYSHIM_REPOSITORY_URL=https://github.com/org/model.git pyshim clone`,
	Args: cobra.NoArgs,
	RunE: cloneRepo,
}

func init() {
	rootCmd.AddCommand(cloneCmd)
}

func cloneRepo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fetcher, err := a.fetcher(ctx)
	if err != nil {
		return err
	}
	res, err := fetcher.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}
