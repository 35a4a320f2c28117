package updatecheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

const (
	httpTimeout     = 30 * time.Second
	maxRetries      = 4
	maxRetryDelay   = 30 * time.Second
	releasesPerPage = 30
)

// GitHubSource lists releases and downloads assets.
type GitHubSource struct {
	owner  string
	repo   string
	client *github.Client
	http   *http.Client
	logger *zap.Logger

	attempts uint
}

// NewGitHubSource creates a source for "owner/repo". An empty apiURL means api.github.com.
func NewGitHubSource(repoSlug, apiURL string, logger *zap.Logger) (*GitHubSource, error) {
	owner, repo, ok := strings.Cut(repoSlug, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository %q, want owner/repo", repoSlug)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: httpTimeout}
	client := github.NewClient(httpClient)
	if apiURL != "" {
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = base
	}

	return &GitHubSource{
		owner:    owner,
		repo:     repo,
		client:   client,
		http:     httpClient,
		logger:   logger.Named("github"),
		attempts: maxRetries,
	}, nil
}

// Releases returns the most recent releases, newest first.
func (g *GitHubSource) Releases(ctx context.Context) ([]Release, error) {
	var out []*github.RepositoryRelease
	err := retry.Do(func() error {
		releases, resp, err := g.client.Repositories.ListReleases(ctx, g.owner, g.repo,
			&github.ListOptions{PerPage: releasesPerPage})
		if err != nil {
			return classify(resp, err)
		}
		out = releases
		return nil
	},
		retry.Attempts(g.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("Release listing retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("list releases for %s/%s: %w", g.owner, g.repo, err)
	}

	releases := make([]Release, 0, len(out))
	for _, r := range out {
		rel := Release{
			Tag:        r.GetTagName(),
			Prerelease: r.GetPrerelease(),
			Draft:      r.GetDraft(),
			HTMLURL:    r.GetHTMLURL(),
		}
		if r.PublishedAt != nil {
			rel.PublishedAt = r.PublishedAt.Time
		}
		for _, a := range r.Assets {
			rel.Assets = append(rel.Assets, Asset{
				Name: a.GetName(),
				URL:  a.GetBrowserDownloadURL(),
				Size: int64(a.GetSize()),
			})
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

// classify marks errors that retrying cannot fix.
func classify(resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return err
	}
	if resp == nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return retry.Unrecoverable(err)
	}
	return err
}

// Download streams asset into dir and returns the file path. A partial file is
// never left under the final name.
func (g *GitHubSource) Download(ctx context.Context, asset Asset, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(asset.Name))

	err := retry.Do(func() error {
		return g.downloadOnce(ctx, asset.URL, dest)
	},
		retry.Attempts(g.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.Context(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", asset.Name, err)
	}
	return dest, nil
}

func (g *GitHubSource) downloadOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download failed with status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Unrecoverable(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return retry.Unrecoverable(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
