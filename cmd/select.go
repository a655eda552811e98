package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/vcs"
)

var selectCmd = &cobra.Command{
	Use:   "select <root>",
	Short: "Prints the change-scoped selectors for a directory",
	Long: `Walks root (up to --depth levels) and prints a glob for every part that changed within the
last --days days. Directories without changes are left out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, cancel, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		oracle, err := vcs.FromConfig(cfg, ".")
		if err != nil {
			return err
		}

		lister := selector.DirLister{Exclude: selector.NewIgnoreMatcher("", cfg.Exclude)}
		selectors, err := selector.SelectChangedPaths(ctx, selector.DirPath(args[0]), cfg.MaxDepth, cfg.Since(time.Now()), oracle, lister)
		if err != nil {
			return err
		}

		for _, sel := range selectors {
			fmt.Fprintln(os.Stdout, sel.Glob())
		}
		return nil
	},
}

func init() {
	addSelectionFlags(selectCmd)
	rootCmd.AddCommand(selectCmd)
}
