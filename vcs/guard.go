// Package vcs keeps in-place rewrites from clobbering uncommitted work.
package vcs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
)

// ErrDirty is returned by Guard.Check for a file with uncommitted changes.
var ErrDirty = errors.New("file has uncommitted changes")

// Guard answers whether files may be overwritten. Repository status is read
// once per worktree and reused, so a Guard should live for one run.
type Guard struct {
	mu    sync.Mutex
	dirs  map[string]*worktree // directory to its worktree, nil outside git
	roots map[string]*worktree
}

type worktree struct {
	root   string
	status git.Status
}

// NewGuard returns a Guard with nothing cached.
func NewGuard() *Guard {
	return &Guard{
		dirs:  make(map[string]*worktree),
		roots: make(map[string]*worktree),
	}
}

// Check returns nil when path may be overwritten: it lies outside any git
// worktree, or git reports no change to it. Otherwise the error wraps
// ErrDirty and names the kind of change.
func (g *Guard) Check(path string) error {
	abs, err := resolve(path)
	if err != nil {
		return err
	}
	wt, err := g.worktreeFor(filepath.Dir(abs))
	if err != nil || wt == nil {
		return err
	}
	rel, err := filepath.Rel(wt.root, abs)
	if err != nil {
		return fmt.Errorf("vcs: %s: %w", path, err)
	}
	// Status only lists files that differ from HEAD.
	st, ok := wt.status[filepath.ToSlash(rel)]
	if !ok {
		return nil
	}
	if state := describe(st); state != "" {
		return fmt.Errorf("%s: %w (%s)", path, ErrDirty, state)
	}
	return nil
}

func (g *Guard) worktreeFor(dir string) (*worktree, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wt, ok := g.dirs[dir]; ok {
		return wt, nil
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		g.dirs[dir] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vcs: open repository for %s: %w", dir, err)
	}
	tree, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		g.dirs[dir] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vcs: worktree for %s: %w", dir, err)
	}

	root, err := resolve(tree.Filesystem.Root())
	if err != nil {
		return nil, err
	}
	wt, ok := g.roots[root]
	if !ok {
		status, err := tree.Status()
		if err != nil {
			return nil, fmt.Errorf("vcs: status of %s: %w", root, err)
		}
		wt = &worktree{root: root, status: status}
		g.roots[root] = wt
	}
	g.dirs[dir] = wt
	return wt, nil
}

func describe(st *git.FileStatus) string {
	switch {
	case st.Worktree == git.Untracked:
		return "untracked"
	case st.Staging != git.Unmodified:
		return "staged"
	case st.Worktree != git.Unmodified:
		return "modified"
	}
	return ""
}

// resolve returns an absolute path with symlinks evaluated where possible.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("vcs: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
