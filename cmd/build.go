package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ngld/distbuild/pkg/orchestrator"
	"github.com/ngld/distbuild/pkg/storage"
	"github.com/ngld/distbuild/pkg/vcs"
)

// runSteps executes the named orchestrator steps
func runSteps(cmd *cobra.Command, steps ...string) error {
	ctx, cfg, cancel, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	oracle, err := vcs.FromConfig(cfg, ".")
	if err != nil {
		return err
	}

	o := &orchestrator.Orchestrator{
		Config:   cfg,
		Oracle:   oracle,
		Progress: true,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	flags := cmd.Flags()
	if flags.Lookup("dry") != nil {
		o.DryRun, err = flags.GetBool("dry")
		if err != nil {
			return err
		}
	}

	if flags.Lookup("format") != nil {
		o.StateFormat, err = flags.GetString("format")
		if err != nil {
			return err
		}
	}

	for _, step := range steps {
		// validate the environment before clean removes anything
		if step == "build" {
			if _, err := cfg.Environment(); err != nil {
				return err
			}

			if !o.DryRun && cfg.History != "" {
				ledger, err := storage.Open(cfg.History)
				if err != nil {
					return err
				}
				defer ledger.Close()
				o.Ledger = ledger
			}
		}
	}

	return o.Graph().Run(ctx, steps...)
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Cleans and builds all recently changed projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(cmd, "build")
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Cleans and reports what build would do",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(cmd, "state")
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes dist/ and the dist/ directories of all projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(cmd, "clean")
	},
}

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().Int("days", 30, "projects changed within this many days are built")
	cmd.Flags().Int("depth", 3, "how many directory levels the path selection descends")
	cmd.Flags().String("backend", "shell", "how git history is queried (shell or native)")
	cmd.Flags().Bool("fix-encoding", false, "decode git output as GBK")
}

func init() {
	buildCmd.Flags().StringP("env", "e", "", "environment (dev, test or prod)")
	buildCmd.Flags().String("npm", "npm", "package manager used to install dependencies")
	buildCmd.Flags().String("version", "", "version substituted for _VER_ (defaults to the build timestamp)")
	buildCmd.Flags().Bool("compress", false, "write brotli compressed copies of prod assets")
	buildCmd.Flags().Bool("archive", false, "pack each built project into a .tar.xz archive")
	buildCmd.Flags().BoolP("dry", "n", false, "dry run; only log what would happen")
	addSelectionFlags(buildCmd)

	stateCmd.Flags().StringP("format", "f", "text", "report format (text or yaml)")
	addSelectionFlags(stateCmd)

	cleanCmd.Flags().BoolP("dry", "n", false, "only log what would be removed")

	rootCmd.AddCommand(buildCmd, stateCmd, cleanCmd)
}
