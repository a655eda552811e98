package pipeline

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ArchiveDir packs the contents of dir into a .tar.xz file at dest. Entry names are relative to dir
// and use forward slashes.
func ArchiveDir(dir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	defer f.Close()

	xzw, err := xz.NewWriter(f)
	if err != nil {
		return eris.Wrap(err, "failed to initialize xz")
	}

	archive := tar.NewWriter(xzw)
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			// symlinks and devices have no place in a dist archive
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		err = archive.WriteHeader(header)
		if err != nil {
			return eris.Wrapf(err, "failed to write header for %s", rel)
		}

		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(archive, src)
		if err != nil {
			return eris.Wrapf(err, "failed to archive %s", rel)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "failed to archive %s", dir)
	}

	err = archive.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish tar stream")
	}

	err = xzw.Close()
	if err != nil {
		return eris.Wrap(err, "failed to finish xz stream")
	}

	return f.Close()
}
