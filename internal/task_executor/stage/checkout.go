package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"rtmpipe/internal/credential"
	"rtmpipe/pkg/queue"
)

// Checkouter resets the workspace: artifact directories from earlier runs
// are removed and the script repository, when one is configured, is brought
// to the requested ref.
type Checkouter struct{}

func (c *Checkouter) Name() string { return Checkout }

func (c *Checkouter) Run(ctx context.Context, r *Run) (Report, error) {
	cfg := r.Pipeline.Stages.Checkout
	if err := os.MkdirAll(r.Workspace, 0o755); err != nil {
		return Report{Status: StatusFailed}, fail(Checkout, KindCheckout, err)
	}
	if err := cleanWorkspace(r.Workspace, r.Clean); err != nil {
		return Report{Status: StatusFailed}, fail(Checkout, KindCheckout, err)
	}
	if cfg.RepoURL == "" {
		return Report{Status: StatusSuccess, Tail: "workspace cleaned"}, nil
	}

	hash, err := syncRepo(ctx, r.Workspace, cfg, gitAuth(r.Creds))
	if err != nil {
		se := fail(Checkout, KindCheckout, err)
		if ctx.Err() != nil {
			se.Kind = KindCanceled
		}
		return Report{Status: StatusFailed}, se
	}
	r.logger().Info("repository checked out",
		zap.String("run_id", r.ID),
		zap.String("repo", cfg.RepoURL),
		zap.String("commit", hash.String()),
	)
	return Report{Status: StatusSuccess, Tail: "checked out " + hash.String()}, nil
}

// cleanWorkspace removes the named directories. Names must stay inside the
// workspace.
func cleanWorkspace(workspace string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		clean := filepath.Clean(name)
		if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("refusing to clean %q outside the workspace", name)
		}
		if err := os.RemoveAll(filepath.Join(workspace, clean)); err != nil {
			return fmt.Errorf("cleaning %s: %w", name, err)
		}
	}
	return nil
}

func gitAuth(creds *credential.Bindings) transport.AuthMethod {
	if creds == nil || creds.GitToken.IsZero() {
		return nil
	}
	user := creds.GitUser.Reveal()
	if user == "" {
		user = "git"
	}
	return &githttp.BasicAuth{Username: user, Password: creds.GitToken.Reveal()}
}

func syncRepo(ctx context.Context, dir string, cfg queue.CheckoutStage, auth transport.AuthMethod) (plumbing.Hash, error) {
	repo, err := git.PlainOpen(dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		opts := &git.CloneOptions{URL: cfg.RepoURL, Auth: auth}
		if cfg.Ref == "" {
			opts.Depth = cfg.Depth
		}
		repo, err = git.PlainCloneContext(ctx, dir, false, opts)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("clone %s: %w", cfg.RepoURL, err)
		}
	case err != nil:
		return plumbing.ZeroHash, fmt.Errorf("open repository: %w", err)
	default:
		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			Auth:       auth,
			Tags:       git.AllTags,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return plumbing.ZeroHash, fmt.Errorf("fetch %s: %w", cfg.RepoURL, err)
		}
	}

	hash, err := resolveRef(repo, cfg.Ref)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("reset to %s: %w", hash, err)
	}
	return hash, nil
}

// resolveRef prefers the remote-tracking branch, then a tag, then any
// revision go-git understands. An empty ref follows the current branch.
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	var candidates []string
	if ref == "" {
		if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
			candidates = append(candidates, "refs/remotes/origin/"+head.Name().Short())
		}
		candidates = append(candidates, "HEAD")
	} else {
		candidates = append(candidates, "refs/remotes/origin/"+ref, "refs/tags/"+ref, ref)
	}
	for _, c := range candidates {
		if h, err := repo.ResolveRevision(plumbing.Revision(c)); err == nil {
			return *h, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("cannot resolve ref %q", ref)
}
