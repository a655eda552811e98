package cmd

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ngld/distbuild/pkg/config"
)

func TestApplyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("days", 30, "")
	flags.String("npm", "npm", "")
	flags.StringP("env", "e", "", "")
	if err := flags.Parse([]string{"--days=7", "-e", "prod"}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Days: 30, NPM: "pnpm"}
	if err := applyFlags(cfg, flags); err != nil {
		t.Fatal(err)
	}

	if cfg.Days != 7 || cfg.Env != "prod" {
		t.Errorf("explicit flags not applied: %+v", cfg)
	}

	if cfg.NPM != "pnpm" {
		t.Errorf("flag default overrode config value: %s", cfg.NPM)
	}
}

func TestConsoleWriter(t *testing.T) {
	disabled := colorize.Disable
	colorize.Disable = true
	defer func() { colorize.Disable = disabled }()

	var out bytes.Buffer
	logger := zerolog.New(NewConsoleWriter(&out))

	logger.Info().Str("project", "site").Int("count", 3).Msg("Copied files")
	logger.Info().Str("project", "app").Str("task", "build").Bool("command", true).Msg("npm run build")

	expected := "site: Copied files count=3\napp: build: $ npm run build\n"
	if out.String() != expected {
		t.Errorf("got %q, want %q", out.String(), expected)
	}
}
