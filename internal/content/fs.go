package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var _ Store = (*FSStore)(nil)

// FSStore keeps bodies at <root>/<manuscript>/docs/<document>.html.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) Read(_ context.Context, manuscriptID, documentID string) (string, error) {
	if err := validateIDs(manuscriptID, documentID); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.path(manuscriptID, documentID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read content: %w", err)
	}
	return string(data), nil
}

// Write replaces the body atomically: a reader sees either the old or the new file.
func (s *FSStore) Write(_ context.Context, manuscriptID, documentID, html string) error {
	if err := validateIDs(manuscriptID, documentID); err != nil {
		return err
	}
	target := s.path(manuscriptID, documentID)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+documentID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp content: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(html); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp content: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename content: %w", err)
	}
	committed = true
	return syncDir(dir)
}

func (s *FSStore) RemoveManuscript(_ context.Context, manuscriptID string) error {
	if err := ValidateSegment(manuscriptID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, manuscriptID)); err != nil {
		return fmt.Errorf("remove manuscript content: %w", err)
	}
	return nil
}

func (s *FSStore) path(manuscriptID, documentID string) string {
	return filepath.Join(s.root, manuscriptID, filepath.FromSlash(DocumentPath(documentID)))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open content dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync content dir: %w", err)
	}
	return nil
}
