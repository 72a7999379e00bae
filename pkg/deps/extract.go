package deps

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

type archiveExtractor func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error

// destFor strips ds.Strip leading elements from item and returns the resulting path below
// destPath. An empty string means that the entry should be skipped.
func destFor(destPath, item string, ds Spec) (string, error) {
	pathParts := strings.Split(filepath.ToSlash(filepath.Clean(item)), "/")
	if len(pathParts) <= ds.Strip {
		return "", nil
	}

	dest := filepath.Join(destPath, filepath.FromSlash(strings.Join(pathParts[ds.Strip:], "/")))
	if dest == destPath {
		return "", nil
	}

	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, destPath)
	}

	return dest, nil
}

func writeEntry(dest string, mode os.FileMode, r io.Reader) error {
	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return eris.Wrapf(err, "Failed to create file %s", dest)
	}
	defer destHandle.Close()

	_, err = io.Copy(destHandle, r)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}

func updateBar(f *os.File, bar *progressbar.ProgressBar) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		bar.Set64(pos)
	}
}

func getExtractor(url string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, ds)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, destPath, ds)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := destFor(destPath, item.Name, ds)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
		}

		err = writeEntry(dest, 0660, itemHandle)
		itemHandle.Close()
		if err != nil {
			return err
		}

		updateBar(f, bar)
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, ds Spec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		dest, err := destFor(destPath, item.Name, ds)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory for %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		if item.Typeflag != tar.TypeReg && item.Typeflag != tar.TypeRegA {
			continue
		}

		err = writeEntry(dest, fi.Mode().Perm()|0600, archive)
		if err != nil {
			return err
		}

		updateBar(f, bar)
	}

	return nil
}
