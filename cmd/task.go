package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/buildsys"
	"github.com/ngld/distbuild/pkg/selector"
)

// findTaskFile searches the working directory and its parents for a tasks.star file
func findTaskFile() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		taskPath := filepath.Join(path, buildsys.TaskFile)
		_, err := os.Stat(taskPath)
		if err == nil {
			return taskPath, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", taskPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s file found", buildsys.TaskFile)
		}
		path = parent
	}
}

var taskCmd = &cobra.Command{
	Use:   "task [name...] [option=value...]",
	Short: "Runs tasks from the nearest tasks.star file",
	Long: `Parses the first tasks.star file found in the working directory (or its parents) and runs the
given tasks. Arguments containing "=" set script options. Without task names, the available tasks
are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, cancel, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		taskArgs := make([]string, 0)
		options := make(map[string]string)
		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				taskArgs = append(taskArgs, part)
			}
		}

		taskPath, err := findTaskFile()
		if err != nil {
			return err
		}

		script, err := buildsys.LoadScript(ctx, taskPath, filepath.Dir(taskPath), options)
		if err != nil {
			return err
		}

		for _, name := range taskArgs {
			err = buildsys.RunTask(ctx, script, name, buildsys.RunOptions{
				DryRun:   dryRun,
				Force:    force,
				Version:  cfg.VersionToken(time.Now()),
				Compress: cfg.Compress,
				Exclude:  selector.NewIgnoreMatcher("", cfg.Exclude),
			})
			if err != nil {
				return eris.Wrapf(err, "failed task %s", name)
			}
			buildlog.Log(ctx).Debug().Str("task", name).Msg("Done")
		}

		if len(taskArgs) == 0 {
			printTaskList(script)
		}
		return nil
	},
}

func printTaskList(script *buildsys.Script) {
	fmt.Println("Available tasks:")
	maxNameLen := 0
	sortedNames := make([]string, 0, len(script.Tasks))
	for name, task := range script.Tasks {
		if task.Hidden {
			continue
		}
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Printf(lineFmt, name+":", script.Tasks[name].Desc)
	}

	if len(script.Options) > 0 {
		fmt.Println("\nOptions:")
		optionNames := make([]string, 0, len(script.Options))
		for name := range script.Options {
			optionNames = append(optionNames, name)
		}
		sort.Strings(optionNames)

		for _, name := range optionNames {
			option := script.Options[name]
			fmt.Printf(" * %s=%s  %s\n", name, option.Default(), option.Help)
		}
	}
}

func init() {
	taskCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	taskCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	taskCmd.Flags().String("version", "", "version substituted for _VER_ (defaults to the current timestamp)")
	taskCmd.Flags().Bool("compress", false, "write brotli compressed copies of prod assets")
	rootCmd.AddCommand(taskCmd)
}
