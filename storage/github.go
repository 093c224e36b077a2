package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// GitHubBackend reads content from a GitHub repository laid out like a
// FileBackend directory: <type>/<hex id> at the repository root. Content is
// published by committing a FileBackend checkout and pushing, so the backend
// itself is read-only. Fetched bytes are verified against the requested
// content ID before being returned.
type GitHubBackend struct {
	httpClient *http.Client
	owner      string
	repo       string
	ref        string
	token      string
	maskedURI  string
}

// NewGitHubBackend creates a GitHub storage backend from a parsed location
// such as github://owner/repo?ref=main. A token in the auth position grants
// access to private repositories.
func NewGitHubBackend(location interfaces.StorageBackendLocation) (*GitHubBackend, error) {
	owner := location.Host
	repo := strings.Trim(location.Path, "/")
	if owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("%w: github location must be github://owner/repo", interfaces.ErrInvalidLocationURI)
	}

	ref := location.GetParam("ref")
	if ref == "" {
		ref = "main"
	}

	return &GitHubBackend{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		owner:      owner,
		repo:       repo,
		ref:        ref,
		token:      location.Auth,
		maskedURI:  maskedGitHubURI(location),
	}, nil
}

// Fetch downloads raw content and verifies its hash matches the content ID.
func (g *GitHubBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	url := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s/%s",
		g.owner, g.repo, g.ref, contentType.String(), id.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building github request: %w", err)
	}
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching github content: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, interfaces.ErrContentNotFound
	default:
		return nil, fmt.Errorf("github returned %s for %s", resp.Status, id)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading github response: %w", err)
	}

	if computed := interfaces.ComputeID(data); !computed.Equal(id) {
		return nil, fmt.Errorf("github content %s failed hash verification, got %s", id, computed)
	}

	return data, nil
}

// Store is not supported. Content reaches the repository by committing a
// FileBackend checkout.
func (g *GitHubBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	return interfaces.ContentID{}, fmt.Errorf("github backend %s/%s is read-only", g.owner, g.repo)
}

// Available checks that the repository is reachable.
func (g *GitHubBackend) Available(ctx context.Context) bool {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s", g.owner, g.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Name returns an identifier for logging.
func (g *GitHubBackend) Name() string {
	return fmt.Sprintf("github-%s-%s", g.owner, g.repo)
}

// LocationURI returns the backend URI with any token masked.
func (g *GitHubBackend) LocationURI() string {
	return g.maskedURI
}

func (g *GitHubBackend) authorize(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}
}

func maskedGitHubURI(location interfaces.StorageBackendLocation) string {
	if location.Auth == "" {
		return location.Raw
	}
	return strings.Replace(location.Raw, location.Auth+"@", "***@", 1)
}
