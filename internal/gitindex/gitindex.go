// Package gitindex implements the git-backed registry index accessor.
//
// The registry publishes its index as a version-controlled repository; a
// local replica of it is read for lookups and synchronized with the remote
// origin when a version is not found locally. Refreshes mutate the replica
// in place, so at most one runs at a time per replica.
package gitindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/seqre-contrib/release-plz/client"
	"github.com/seqre-contrib/release-plz/internal/core"
)

// Kind is the index access model implemented by this package.
const Kind = "git"

func init() {
	core.Register(Kind, func(cfg core.Config) (core.Index, error) {
		return New(cfg)
	})
}

// Index reads a locally replicated git registry index. All operations,
// including the in-place refresh, serialize on an internal mutex.
type Index struct {
	mu     sync.Mutex
	repo   *git.Repository
	logger zerolog.Logger
}

// New opens the replica at cfg.Path, cloning it bare from cfg.URL when it
// does not exist yet.
func New(cfg core.Config) (*Index, error) {
	if cfg.Path == "" {
		return nil, errors.New("git index: replica path is required")
	}

	repo, err := git.PlainOpen(cfg.Path)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("git index: opening replica at %s: %w", cfg.Path, err)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("git index: no replica at %s and no remote URL to clone from", cfg.Path)
		}
		repo, err = git.PlainClone(cfg.Path, true, &git.CloneOptions{URL: cfg.URL})
		if err != nil {
			return nil, fmt.Errorf("git index: cloning %s: %w", cfg.URL, err)
		}
	}

	return &Index{repo: repo, logger: cfg.Log()}, nil
}

// NewFromRepo wraps an already opened repository. Used by tests.
func NewFromRepo(repo *git.Repository) *Index {
	return &Index{repo: repo, logger: zerolog.Nop()}
}

func (g *Index) Kind() string {
	return Kind
}

// Lookup first checks the local replica; on a miss it refreshes the replica
// from the remote origin and checks once more.
func (g *Index) Lookup(ctx context.Context, ref core.Ref, _ client.Token) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	present, err := g.inReplica(ref)
	if err != nil {
		return false, err
	}
	if present {
		return true, nil
	}

	if err := g.update(ctx); err != nil {
		return false, fmt.Errorf("failed to update git index: %w", err)
	}

	return g.inReplica(ref)
}

// Update synchronizes the local replica with its remote origin.
func (g *Index) Update(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.update(ctx)
}

func (g *Index) update(ctx context.Context) error {
	g.logger.Debug().Msg("updating git index replica")
	err := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func (g *Index) inReplica(ref core.Ref) (bool, error) {
	crate, err := g.crate(ref.Name)
	if err != nil {
		return false, err
	}
	return crate != nil && crate.HasVersion(ref.Version), nil
}

// crate reads and parses the index file for name from the replica's current
// head, or returns nil when the registry has never seen the package.
func (g *Index) crate(name string) (*core.Crate, error) {
	commit, err := g.headCommit()
	if err != nil {
		return nil, fmt.Errorf("resolving index head: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading index tree: %w", err)
	}

	file, err := tree.File(core.IndexPath(name))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index entry for %s: %w", name, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading index entry for %s: %w", name, err)
	}

	return core.ParseCrate(name, []byte(contents))
}

// headCommit resolves the commit the replica currently considers the index
// head. Fetches advance the remote-tracking refs, so those take precedence
// over the replica's own HEAD.
func (g *Index) headCommit() (*object.Commit, error) {
	for _, name := range []string{
		"refs/remotes/origin/HEAD",
		"refs/remotes/origin/master",
		"refs/remotes/origin/main",
	} {
		ref, err := g.repo.Reference(plumbing.ReferenceName(name), true)
		if err == nil {
			return g.repo.CommitObject(ref.Hash())
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, err
		}
	}

	head, err := g.repo.Head()
	if err != nil {
		return nil, err
	}
	return g.repo.CommitObject(head.Hash())
}
