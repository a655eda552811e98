package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/selector"
)

// VersionPlaceholder is replaced with the version token in scripts, styles and markup
const VersionPlaceholder = "_VER_"

// Transformer copies files into a dist directory and processes them according to Env:
//
//	dev   plain copy
//	test  minified, with external source maps
//	prod  minified, optionally brotli compressed
type Transformer struct {
	Env      config.Env
	Version  string
	Compress bool
	Progress bool
}

// Stats summarizes a transform run
type Stats struct {
	Files      int
	Minified   int
	Compressed int
	BytesIn    int64
	BytesOut   int64
}

// Transform processes files (which must be located under srcRoot) into destDir, preserving their
// location relative to srcRoot.
func (t *Transformer) Transform(ctx context.Context, files []string, srcRoot, destDir string) (Stats, error) {
	stats := Stats{}
	bar := getProgressBar(int64(len(files)), filepath.Base(destDir), t.Progress)
	defer bar.Finish()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rel, err := filepath.Rel(srcRoot, file)
		if err != nil || strings.HasPrefix(filepath.ToSlash(rel), "../") || rel == ".." {
			return stats, eris.Errorf("%s is not located in %s", file, srcRoot)
		}

		dest := filepath.Join(destDir, rel)
		err = t.transformFile(ctx, file, dest, &stats)
		if err != nil {
			return stats, err
		}

		bar.Add(1)
	}

	buildlog.Log(ctx).Debug().
		Int("files", stats.Files).
		Int("minified", stats.Minified).
		Int64("in", stats.BytesIn).
		Int64("out", stats.BytesOut).
		Msgf("Transformed %s", srcRoot)
	return stats, nil
}

// TransformTree processes every file under src (skipping those matched by exclude) into dest
func (t *Transformer) TransformTree(ctx context.Context, src, dest string, exclude selector.Matcher) (Stats, error) {
	files, err := Resolve([]selector.Selector{{Kind: selector.AllUnder, Path: selector.DirPath(src)}}, exclude)
	if err != nil {
		return Stats{}, err
	}

	return t.Transform(ctx, files, src, dest)
}

func (t *Transformer) transformFile(ctx context.Context, src, dest string, stats *Stats) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", src)
	}

	err = os.MkdirAll(filepath.Dir(dest), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory for %s", dest)
	}

	kind := KindOf(src)
	var sourceMap []byte
	if kind != OtherAsset {
		content = bytes.ReplaceAll(content, []byte(VersionPlaceholder), []byte(t.Version))

		if t.Env == config.EnvTest || t.Env == config.EnvProd {
			minified, srcMap, err := Minify(content, kind, filepath.Base(dest), t.Env == config.EnvTest)
			if err != nil {
				return err
			}

			content = minified
			sourceMap = srcMap
			stats.Minified++
		}
	}

	err = os.WriteFile(dest, content, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	stats.Files++
	stats.BytesIn += info.Size()
	stats.BytesOut += int64(len(content))

	if sourceMap != nil {
		err = os.WriteFile(dest+".map", sourceMap, 0o660)
		if err != nil {
			return eris.Wrapf(err, "failed to write %s.map", dest)
		}
	}

	if t.Env == config.EnvProd && t.Compress && kind != OtherAsset && len(content) >= minCompressSize {
		err = CompressFile(dest)
		if err != nil {
			return err
		}
		stats.Compressed++
	}

	buildlog.Log(ctx).Debug().Str("src", src).Str("dest", dest).Msg("Copied")
	return nil
}
