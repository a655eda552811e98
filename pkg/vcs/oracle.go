package vcs

import (
	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/selector"
)

// FromConfig creates the oracle selected by oracle.backend for the repository containing dir.
// Failed queries are retried oracle.retries times and every answer is cached for the lifetime
// of the returned oracle.
func FromConfig(cfg *config.Config, dir string) (selector.Oracle, error) {
	var oracle selector.Oracle

	switch cfg.Oracle.Backend {
	case "shell":
		oracle = &ShellOracle{
			Dir:         dir,
			Timeout:     cfg.Oracle.Timeout,
			FixEncoding: cfg.FixEncoding,
		}
	case "native":
		native, err := OpenNative(dir)
		if err != nil {
			return nil, err
		}
		oracle = native
	default:
		return nil, eris.Errorf("unknown oracle backend %s", cfg.Oracle.Backend)
	}

	if cfg.Oracle.Retries > 0 {
		oracle = selector.Retry(oracle, cfg.Oracle.Retries)
	}

	return selector.Memoize(oracle), nil
}
