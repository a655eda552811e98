package pipeline

import (
	"io"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// brotli only pays off for text assets above a certain size
const minCompressSize = 256

// CompressFile writes a brotli compressed copy of path to path + ".br"
func CompressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", path)
	}
	defer src.Close()

	dest, err := os.Create(path + ".br")
	if err != nil {
		return eris.Wrapf(err, "failed to create %s.br", path)
	}
	defer dest.Close()

	brw := brotli.NewWriterLevel(dest, brotli.BestCompression)
	_, err = io.Copy(brw, src)
	if err != nil {
		return eris.Wrapf(err, "failed to compress %s", path)
	}

	err = brw.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to compress %s", path)
	}

	return dest.Close()
}
