package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngld/distbuild/pkg/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists previous builds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, cancel, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		ledger, err := storage.Open(cfg.History)
		if err != nil {
			return err
		}
		defer ledger.Close()

		records, err := ledger.List(ctx, limit)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stdout, "No builds recorded yet.")
			return nil
		}

		for _, rec := range records {
			printTask(os.Stdout, fmt.Sprintf("%s  %s  env=%s  took %s", rec.ID, rec.Started.Format(time.RFC3339),
				rec.Env, rec.Finished.Sub(rec.Started).Round(time.Millisecond)))

			for _, project := range rec.Projects {
				globs := make([]string, len(project.Selectors))
				for idx, sel := range project.Selectors {
					globs[idx] = sel.Glob()
				}

				line := fmt.Sprintf("%s (%s)", project.Name, project.Kind)
				if len(globs) > 0 {
					line += ": " + strings.Join(globs, ", ")
				}
				printSubtask(os.Stdout, line)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "l", 10, "number of builds to show (0 shows all)")
	rootCmd.AddCommand(historyCmd)
}
