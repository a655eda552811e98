// Package cmd implements the distbuild CLI
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/shell"
)

var rootCmd = &cobra.Command{
	Use:   "distbuild",
	Short: "Builds recently changed projects into a dist directory",
	Long: `distbuild looks for projects that changed recently (according to git), installs their
dependencies, runs their build scripts and collects the results in a single dist directory.
Plain projects are copied with their scripts, styles and markup minified and versioned.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceP("config", "c", nil, "config files (default distbuild.toml, distbuild.yml or distbuild.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "log JSON lines instead of pretty console messages")
}

// Execute runs the root command
func Execute() {
	if self, err := os.Executable(); err == nil {
		shell.SelfExecutable = self
	}

	cobra.CheckErr(rootCmd.Execute())
}

// flagSetters map flag names to the config fields they override. Flags only win if they were
// passed explicitly, otherwise the config file and environment values are kept.
var flagSetters = map[string]func(cfg *config.Config, flags *pflag.FlagSet, name string) error{
	"log-level": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Log.Level, err = flags.GetString(name)
		return
	},
	"json": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Log.JSON, err = flags.GetBool(name)
		return
	},
	"env": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Env, err = flags.GetString(name)
		return
	},
	"days": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Days, err = flags.GetInt(name)
		return
	},
	"depth": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.MaxDepth, err = flags.GetInt(name)
		return
	},
	"npm": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.NPM, err = flags.GetString(name)
		return
	},
	"version": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Version, err = flags.GetString(name)
		return
	},
	"compress": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Compress, err = flags.GetBool(name)
		return
	},
	"archive": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Archive, err = flags.GetBool(name)
		return
	},
	"backend": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.Oracle.Backend, err = flags.GetString(name)
		return
	},
	"fix-encoding": func(cfg *config.Config, flags *pflag.FlagSet, name string) (err error) {
		cfg.FixEncoding, err = flags.GetBool(name)
		return
	},
}

func applyFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	for name, setter := range flagSetters {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}

		err := setter(cfg, flags, name)
		if err != nil {
			return eris.Wrapf(err, "failed to read --%s", name)
		}
	}
	return nil
}

// setup loads the configuration, configures logging and returns a context that is cancelled on
// Ctrl+C.
func setup(cmd *cobra.Command) (context.Context, *config.Config, context.CancelFunc, error) {
	files, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, nil, err
	}

	err = applyFlags(cfg, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return buildlog.WithLogger(ctx, &logger), cfg, cancel, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.Log.JSON {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, cfg.Log.Level == "debug")
		}
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, cfg.Log.Level == "debug")
	}
	return zerolog.New(NewConsoleWriter(os.Stderr))
}
