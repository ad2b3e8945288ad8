package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Client provides git operations for fetching preview branches
type Client struct {
	workDir string
	auth    transport.AuthMethod
	logger  *slog.Logger
}

// ClientOption configures the git client
type ClientOption func(*Client)

// WithHTTPAuth sets HTTP basic authentication
func WithHTTPAuth(username, token string) ClientOption {
	return func(c *Client) {
		c.auth = &http.BasicAuth{
			Username: username,
			Password: token,
		}
	}
}

// NewClient creates a new git client
func NewClient(workDir string, opts ...ClientOption) (*Client, error) {
	// Ensure work directory exists
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	c := &Client{
		workDir: workDir,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CloneOptions configures clone/pull operations
type CloneOptions struct {
	URL      string
	Branch   string
	Depth    int
	Progress io.Writer
}

// CloneOrPull clones a repository if it doesn't exist, or pulls updates
func (c *Client) CloneOrPull(ctx context.Context, opts CloneOptions) (*git.Repository, error) {
	repoPath := c.RepoPath(opts.URL, opts.Branch)

	// Check if repo already exists
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err == nil {
		return c.pull(ctx, repoPath, opts)
	}

	return c.clone(ctx, repoPath, opts)
}

// clone clones a new repository
func (c *Client) clone(ctx context.Context, path string, opts CloneOptions) (*git.Repository, error) {
	c.logger.Info("cloning repository", "url", opts.URL, "branch", opts.Branch)

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:           opts.URL,
		Auth:          c.auth,
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
		SingleBranch:  true,
		Progress:      opts.Progress,
	}

	if opts.Depth > 0 {
		cloneOpts.Depth = opts.Depth
	}

	repo, err := git.PlainCloneContext(ctx, path, false, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	c.logger.Info("repository cloned", "path", path)
	return repo, nil
}

// pull pulls updates for an existing repository
func (c *Client) pull(ctx context.Context, path string, opts CloneOptions) (*git.Repository, error) {
	c.logger.Info("pulling repository", "path", path, "branch", opts.Branch)

	repo, err := git.PlainOpen(path)
	if err != nil {
		// If repo is corrupted, remove and re-clone
		c.logger.Warn("failed to open repository, will re-clone", "error", err)
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted repo: %w", err)
		}
		return c.clone(ctx, path, opts)
	}

	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	// Fetch first to get latest refs
	fetchOpts := &git.FetchOptions{
		RemoteName: "origin",
		Auth:       c.auth,
		Progress:   opts.Progress,
		Force:      true,
	}

	if err := repo.FetchContext(ctx, fetchOpts); err != nil && err != git.NoErrAlreadyUpToDate {
		c.logger.Warn("fetch failed", "error", err)
	}

	// Checkout and reset to the target branch
	branchRef := plumbing.NewBranchReferenceName(opts.Branch)
	remoteRef := plumbing.NewRemoteReferenceName("origin", opts.Branch)

	// Get remote ref
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote reference: %w", err)
	}

	// Reset to remote HEAD
	if err := w.Reset(&git.ResetOptions{
		Commit: ref.Hash(),
		Mode:   git.HardReset,
	}); err != nil {
		return nil, fmt.Errorf("failed to reset: %w", err)
	}

	// Update local branch reference
	localRef := plumbing.NewHashReference(branchRef, ref.Hash())
	if err := repo.Storer.SetReference(localRef); err != nil {
		c.logger.Warn("failed to update local branch ref", "error", err)
	}

	c.logger.Info("repository updated", "path", path)
	return repo, nil
}

// GetHeadCommit returns the HEAD commit
func (c *Client) GetHeadCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	return commit, nil
}

// RepoPath returns the local checkout path for a repository URL and branch.
// Each branch gets its own checkout so concurrent preview builds never
// stomp on each other's worktree.
func (c *Client) RepoPath(url, branch string) string {
	name := url
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "git@")
	name = strings.TrimSuffix(name, ".git")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, "/", "_")

	// Add a hash suffix for uniqueness
	hash := sha256.Sum256([]byte(url + "#" + branch))
	hashStr := hex.EncodeToString(hash[:4])

	return filepath.Join(c.workDir, fmt.Sprintf("%s_%s", name, hashStr))
}

// Clean removes a branch checkout from local storage
func (c *Client) Clean(url, branch string) error {
	path := c.RepoPath(url, branch)
	return os.RemoveAll(path)
}
