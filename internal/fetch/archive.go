package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/goplus/llinstall/formula"
)

// fetchArchive downloads the archive of ch, verifies its digest and
// extracts it into dest. A single top-level directory in the archive is
// stripped.
func (f *fetcher) fetchArchive(ctx context.Context, ch *formula.StableChannel, dest string) (*Source, error) {
	want, err := ParseDigest(ch.Digest)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ch.ArchiveURL, err)
	}

	f.logger.Info("downloading", "url", ch.ArchiveURL, "version", ch.Version)
	rc, err := f.open(ctx, ch.ArchiveURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ch.ArchiveURL, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "llinstall-archive-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := want.newHash()
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ch.ArchiveURL, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want.Hex {
		return nil, &DigestError{URL: ch.ArchiveURL, Want: want, Got: got}
	}
	f.logger.Debug("verified", "digest", want, "bytes", n)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	if err := extract(tmp, archiveName(ch.ArchiveURL), dest); err != nil {
		return nil, fmt.Errorf("extract %s: %w", ch.ArchiveURL, err)
	}
	dir, err := stripTopLevel(dest)
	if err != nil {
		return nil, err
	}
	return &Source{Dir: dir, Digest: want.String()}, nil
}

// open returns a reader for an http(s), file or s3 URL. A URL without a
// scheme is a local path.
func (f *fetcher) open(ctx context.Context, raw string) (io.ReadCloser, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	case "file":
		return os.Open(filepath.FromSlash(u.Path))
	case "s3":
		return f.openS3(ctx, u.Host, u.Path)
	case "":
		return os.Open(raw)
	}
	return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
}

// archiveName returns the base name of the archive URL, used to pick the
// archive format.
func archiveName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}

// stripTopLevel returns the single directory inside dir, or dir itself when
// the archive did not have exactly one top-level directory.
func stripTopLevel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
