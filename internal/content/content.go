// Package content stores document bodies (html) outside the relational store.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Read when a document has no stored body.
var ErrNotFound = errors.New("content not found")

type Store interface {
	Read(ctx context.Context, manuscriptID, documentID string) (string, error)
	Write(ctx context.Context, manuscriptID, documentID, html string) error
	// RemoveManuscript deletes every body stored under manuscriptID. Removing a manuscript
	// with no bodies is not an error.
	RemoveManuscript(ctx context.Context, manuscriptID string) error
}

// ValidateSegment rejects ids that could escape their directory or object prefix.
func ValidateSegment(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("invalid path segment: empty")
	case id == "." || id == "..":
		return fmt.Errorf("invalid path segment %q", id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("invalid path segment %q", id)
	}
	return nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := ValidateSegment(id); err != nil {
			return err
		}
	}
	return nil
}

// DocumentPath is the location of a body relative to its manuscript root.
func DocumentPath(documentID string) string {
	return "docs/" + documentID + ".html"
}
