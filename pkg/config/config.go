package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Env selects how assets are processed on their way into the dist directory
type Env string

const (
	EnvDev  Env = "dev"
	EnvTest Env = "test"
	EnvProd Env = "prod"
)

var validEnvs = map[Env]bool{
	EnvDev:  true,
	EnvTest: true,
	EnvProd: true,
}

// InvalidEnvError is returned when the environment tag is missing or unknown
type InvalidEnvError struct {
	Value string
}

var _ error = (*InvalidEnvError)(nil)

func (e *InvalidEnvError) Error() string {
	return fmt.Sprintf("Invalid environment type %q (e.g. --env=prod)", e.Value)
}

// Config describes all configuration options
type Config struct {
	Projects struct {
		Dir        string `default:"projects" usage:"Directory containing all projects" toml:"dir" yaml:"dir"`
		IgnoreFile string `default:"projects/.buildignore" usage:"gitignore-style list of projects that are never built" toml:"ignore_file" yaml:"ignore_file"`
	} `toml:"projects" yaml:"projects"`
	Dist     string   `default:"dist" usage:"Output directory" toml:"dist" yaml:"dist"`
	Env      string   `usage:"Environment (dev, test or prod)" toml:"env" yaml:"env"`
	Days     int      `default:"30" usage:"Projects changed within this many days are built" toml:"days" yaml:"days"`
	MaxDepth int      `default:"3" usage:"How many directory levels the path selection descends" toml:"max_depth" yaml:"max_depth"`
	Exclude  []string `default:"node_modules" usage:"gitignore-style patterns that are never copied" toml:"exclude" yaml:"exclude"`
	NPM      string   `default:"npm" usage:"Package manager used to install dependencies" toml:"npm" yaml:"npm"`
	// FixEncoding decodes command output as GBK, the default code page of CMD on Chinese Windows
	FixEncoding bool   `default:"false" toml:"fix_encoding" yaml:"fix_encoding"`
	Version     string `usage:"Version substituted for _VER_ (defaults to the build timestamp)" toml:"version" yaml:"version"`
	Compress    bool   `default:"false" usage:"Write brotli compressed copies of prod assets" toml:"compress" yaml:"compress"`
	Archive     bool   `default:"false" usage:"Pack each built project into a .tar.xz archive" toml:"archive" yaml:"archive"`
	History     string `default:".distbuild/history.db" usage:"Build history database" toml:"history" yaml:"history"`
	Oracle      struct {
		Backend string        `default:"shell" usage:"How git history is queried (shell or native)" toml:"backend" yaml:"backend"`
		Timeout time.Duration `default:"30s" usage:"Time limit for a single history query" toml:"timeout" yaml:"timeout"`
		Retries int           `default:"0" usage:"Retries for failed history queries" toml:"retries" yaml:"retries"`
	} `toml:"oracle" yaml:"oracle"`
	Log struct {
		Level string `default:"info" toml:"level" yaml:"level"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages" toml:"json" yaml:"json"`
	} `toml:"log" yaml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by cobra, see cmd.applyFlags.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"distbuild.toml", "distbuild.yml", "distbuild.yaml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "DISTBUILD",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
			".yml":  aconfigyaml.New(),
			".yaml": aconfigyaml.New(),
		},
	})
}

// Load reads the config files and environment
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values. The environment tag is checked
// separately by ValidateEnv since only builds need it.
func (cfg *Config) Validate() error {
	if _, ok := logLevels[cfg.Log.Level]; !ok {
		return eris.Errorf("Invalid value for log.level: %s", cfg.Log.Level)
	}

	if cfg.Days < 0 {
		return eris.Errorf("Invalid value for days: %d (must not be negative)", cfg.Days)
	}

	if cfg.MaxDepth < 1 {
		return eris.Errorf("Invalid value for max_depth: %d (must be at least 1)", cfg.MaxDepth)
	}

	if cfg.Oracle.Retries < 0 {
		return eris.Errorf("Invalid value for oracle.retries: %d", cfg.Oracle.Retries)
	}

	switch cfg.Oracle.Backend {
	case "shell", "native":
		// valid
	default:
		return eris.Errorf("Invalid value for oracle.backend: %s (must be shell or native)", cfg.Oracle.Backend)
	}

	if cfg.Version != "" {
		if _, err := semver.NewVersion(cfg.Version); err != nil {
			return eris.Wrapf(err, "Invalid value for version: %s", cfg.Version)
		}
	}

	if cfg.Env != "" {
		return cfg.ValidateEnv()
	}

	return nil
}

// ValidateEnv fails unless Env is one of dev, test or prod
func (cfg *Config) ValidateEnv() error {
	if !validEnvs[Env(cfg.Env)] {
		return &InvalidEnvError{Value: cfg.Env}
	}
	return nil
}

// Environment returns the validated environment tag
func (cfg *Config) Environment() (Env, error) {
	if err := cfg.ValidateEnv(); err != nil {
		return "", err
	}
	return Env(cfg.Env), nil
}

// Since returns the threshold of the change window relative to now
func (cfg *Config) Since(now time.Time) time.Time {
	return now.Add(-time.Duration(cfg.Days) * 24 * time.Hour)
}

// VersionToken returns the replacement for _VER_ placeholders
func (cfg *Config) VersionToken(now time.Time) string {
	if cfg.Version != "" {
		version, err := semver.NewVersion(cfg.Version)
		if err == nil {
			return "_=" + version.String()
		}
	}

	return fmt.Sprintf("_=%d", now.UnixNano()/int64(time.Millisecond))
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
