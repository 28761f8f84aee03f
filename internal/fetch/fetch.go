// Package fetch retrieves the source of a formula channel: release archives
// for stable channels, git checkouts for head channels.
package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/vcs"
)

// Source is fetched source code, ready to build.
type Source struct {
	Dir string
	// Digest is the verified integrity digest of the archive. Empty for head.
	Digest string
	// Revision is the checked out commit. Empty for stable.
	Revision string
}

// Fetcher retrieves the source of a channel into dest.
type Fetcher interface {
	Fetch(ctx context.Context, ch formula.Channel, dest string) (*Source, error)
}

// S3Options configures access to s3:// archive URLs.
type S3Options struct {
	Endpoint string
	Region   string
	Secure   bool
	// AccessKey and SecretKey are optional; the AWS_* environment
	// variables are used when they are empty.
	AccessKey string
	SecretKey string
}

// Options configures the default Fetcher.
type Options struct {
	HTTPClient *http.Client
	VCS        vcs.VCS
	S3         S3Options
	Logger     *log.Logger
}

type fetcher struct {
	http   *http.Client
	vcs    vcs.VCS
	s3     S3Options
	logger *log.Logger
}

// New returns the default Fetcher.
func New(opts Options) Fetcher {
	f := &fetcher{
		http:   opts.HTTPClient,
		vcs:    opts.VCS,
		s3:     opts.S3,
		logger: opts.Logger,
	}
	if f.http == nil {
		f.http = http.DefaultClient
	}
	if f.vcs == nil {
		f.vcs = vcs.NewGitVCS()
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	return f
}

func (f *fetcher) Fetch(ctx context.Context, ch formula.Channel, dest string) (*Source, error) {
	switch ch := ch.(type) {
	case *formula.StableChannel:
		return f.fetchArchive(ctx, ch, dest)
	case *formula.HeadChannel:
		return f.fetchHead(ctx, ch, dest)
	}
	return nil, fmt.Errorf("fetch: unsupported channel %T", ch)
}

func (f *fetcher) fetchHead(ctx context.Context, ch *formula.HeadChannel, dest string) (*Source, error) {
	f.logger.Info("fetching", "repo", ch.RepoURL, "branch", ch.Branch)
	if err := f.vcs.Sync(ctx, ch.RepoURL, ch.Branch, dest); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ch.RepoURL, err)
	}
	rev, err := f.vcs.Revision(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ch.RepoURL, err)
	}
	f.logger.Debug("checked out", "revision", rev)
	return &Source{Dir: dest, Revision: rev}, nil
}
