// Package gitrepo is a content backend that versions document bodies in one git repository
// per manuscript. Every write is a commit on main.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"scriptorium/internal/content"
)

const (
	mainBranch  = "main"
	authorName  = "Scriptorium"
	authorEmail = "scriptorium@localhost"
)

var _ content.Store = (*Service)(nil)

// Revision is one commit touching a manuscript's content.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Read returns the body of documentID at the head of main, or content.ErrNotFound.
func (s *Service) Read(_ context.Context, manuscriptID, documentID string) (string, error) {
	if err := validate(manuscriptID, documentID); err != nil {
		return "", err
	}
	lock := s.manuscriptLock(manuscriptID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(manuscriptID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", content.ErrNotFound
		}
		return "", fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", content.ErrNotFound
		}
		return "", fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("load commit object: %w", err)
	}
	return readFileFromCommit(commitObj, content.DocumentPath(documentID))
}

// Write commits html as the new body of documentID on main, creating the repository on first use.
func (s *Service) Write(_ context.Context, manuscriptID, documentID, html string) error {
	if err := validate(manuscriptID, documentID); err != nil {
		return err
	}
	lock := s.manuscriptLock(manuscriptID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(manuscriptID)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	rel := content.DocumentPath(documentID)
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return fmt.Errorf("git add %s: %w", rel, err)
	}
	_, err = worktree.Commit("Update "+rel, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  s.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", rel, err)
	}
	return nil
}

func (s *Service) RemoveManuscript(_ context.Context, manuscriptID string) error {
	if err := content.ValidateSegment(manuscriptID); err != nil {
		return err
	}
	lock := s.manuscriptLock(manuscriptID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(manuscriptID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// History lists commits on main, newest first. limit <= 0 means all.
func (s *Service) History(manuscriptID string, limit int) ([]Revision, error) {
	if err := content.ValidateSegment(manuscriptID); err != nil {
		return nil, err
	}
	lock := s.manuscriptLock(manuscriptID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(manuscriptID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, Revision{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) ensureRepo(manuscriptID string) (*git.Repository, error) {
	path := s.repoPath(manuscriptID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	// The first commit lands on whatever HEAD names, so point it at main up front.
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(manuscriptID string) string {
	return filepath.Join(s.baseDir, manuscriptID)
}

func (s *Service) manuscriptLock(manuscriptID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[manuscriptID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[manuscriptID] = lock
	return lock
}

func readFileFromCommit(commitObj *object.Commit, path string) (string, error) {
	file, err := commitObj.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", content.ErrNotFound
		}
		return "", fmt.Errorf("load %s from commit: %w", path, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open %s reader: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func validate(manuscriptID, documentID string) error {
	if err := content.ValidateSegment(manuscriptID); err != nil {
		return err
	}
	return content.ValidateSegment(documentID)
}
