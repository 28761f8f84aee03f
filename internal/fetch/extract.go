package fetch

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// extract unpacks the archive in f into dest. The format is chosen by the
// suffix of name.
func extract(f *os.File, name, dest string) error {
	switch {
	case hasSuffix(name, ".tar.gz", ".tgz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		return untar(zr, dest)
	case hasSuffix(name, ".tar.zst", ".tzst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		return untar(zr, dest)
	case hasSuffix(name, ".tar"):
		return untar(f, dest)
	case hasSuffix(name, ".zip"):
		st, err := f.Stat()
		if err != nil {
			return err
		}
		zr, err := zip.NewReader(f, st.Size())
		if err != nil {
			return err
		}
		return unzip(zr, dest)
	}
	return fmt.Errorf("unsupported archive format: %s", name)
}

func hasSuffix(name string, suffixes ...string) bool {
	name = strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// extractor writes archive entries below dest. An entry is refused if its
// path leaves dest or passes through a symlink already on disk, and link
// targets are cleaned so that ".." only appears as a leading element.
type extractor struct {
	dest string
}

// path returns the on-disk path of the entry name.
func (x *extractor) path(name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	cur := x.dest
	parts := strings.Split(rel, string(filepath.Separator))
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("archive entry %q passes through symlink %s", name, cur)
		}
	}
	return filepath.Join(x.dest, rel), nil
}

// prepare creates the parent of target and removes a symlink at target, so
// that writing the entry never follows a link.
func prepare(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		return os.Remove(target)
	}
	return nil
}

func (x *extractor) dir(name string) error {
	target, err := x.path(name)
	if err != nil {
		return err
	}
	if err := prepare(target); err != nil {
		return err
	}
	return os.MkdirAll(target, 0o755)
}

func (x *extractor) file(name string, r io.Reader, perm fs.FileMode) error {
	target, err := x.path(name)
	if err != nil {
		return err
	}
	if err := prepare(target); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (x *extractor) symlink(name, link string) error {
	target, err := x.path(name)
	if err != nil {
		return err
	}
	link = filepath.Clean(filepath.FromSlash(link))
	rel := filepath.Join(filepath.Dir(filepath.Clean(filepath.FromSlash(name))), link)
	if filepath.IsAbs(link) || !filepath.IsLocal(rel) {
		return fmt.Errorf("archive entry %q links outside destination", name)
	}
	if err := prepare(target); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

// hardlink links name to the regular file old, which must already have been
// extracted.
func (x *extractor) hardlink(name, old string) error {
	target, err := x.path(name)
	if err != nil {
		return err
	}
	src, err := x.path(old)
	if err != nil {
		return err
	}
	fi, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("archive entry %q links to %q: %w", name, old, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("archive entry %q links to %q, which is not a regular file", name, old)
	}
	if err := prepare(target); err != nil {
		return err
	}
	return os.Link(src, target)
}

func untar(r io.Reader, dest string) error {
	x := &extractor{dest: dest}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
			continue
		case tar.TypeDir:
			err = x.dir(hdr.Name)
		case tar.TypeReg:
			err = x.file(hdr.Name, tr, hdr.FileInfo().Mode().Perm())
		case tar.TypeSymlink:
			err = x.symlink(hdr.Name, hdr.Linkname)
		case tar.TypeLink:
			err = x.hardlink(hdr.Name, hdr.Linkname)
		default:
			err = fmt.Errorf("archive entry %q has unsupported type %q", hdr.Name, hdr.Typeflag)
		}
		if err != nil {
			return err
		}
	}
}

// maxLinkTarget bounds the size of a zip symlink entry.
const maxLinkTarget = 4096

func unzip(zr *zip.Reader, dest string) error {
	x := &extractor{dest: dest}
	for _, zf := range zr.File {
		var err error
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			err = x.dir(zf.Name)
		case mode.IsRegular():
			err = x.zipEntry(zf, func(rc io.Reader) error {
				return x.file(zf.Name, rc, mode.Perm())
			})
		case mode&fs.ModeSymlink != 0:
			err = x.zipEntry(zf, func(rc io.Reader) error {
				link, err := io.ReadAll(io.LimitReader(rc, maxLinkTarget+1))
				if err != nil {
					return err
				}
				if len(link) > maxLinkTarget {
					return fmt.Errorf("archive entry %q: link target too long", zf.Name)
				}
				return x.symlink(zf.Name, string(link))
			})
		default:
			err = fmt.Errorf("archive entry %q has unsupported mode %v", zf.Name, mode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) zipEntry(zf *zip.File, fn func(io.Reader) error) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return fn(rc)
}
