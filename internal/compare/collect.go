package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"scriptorium/internal/content"
	"scriptorium/internal/plaintext"
	"scriptorium/internal/store"
)

// TreeReader lists the live (not soft-deleted) folders and documents of a manuscript.
type TreeReader interface {
	ListFolders(ctx context.Context, manuscriptID string) ([]store.Folder, error)
	ListDocuments(ctx context.Context, manuscriptID string) ([]store.Document, error)
}

// ContentReader returns the stored html of a document, or content.ErrNotFound.
type ContentReader interface {
	Read(ctx context.Context, manuscriptID, documentID string) (string, error)
}

type Collector struct {
	tree    TreeReader
	content ContentReader
}

func NewCollector(tree TreeReader, reader ContentReader) *Collector {
	return &Collector{tree: tree, content: reader}
}

type treeItem struct {
	folder    bool
	id        string
	title     string
	sortOrder float64
}

type walkFrame struct {
	items []treeItem
	next  int
}

// Collect flattens the manuscript tree into documents in display order: siblings by sort
// order (folders before documents on ties), descending into each folder where it sits.
// A document with no stored body is collected with empty html.
func (c *Collector) Collect(ctx context.Context, manuscriptID string) ([]ComparableDocument, error) {
	folders, err := c.tree.ListFolders(ctx, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("collect folders: %w", err)
	}
	documents, err := c.tree.ListDocuments(ctx, manuscriptID)
	if err != nil {
		return nil, fmt.Errorf("collect documents: %w", err)
	}

	children := make(map[string][]treeItem)
	for _, f := range folders {
		key := parentKey(f.ParentID)
		children[key] = append(children[key], treeItem{folder: true, id: f.ID, sortOrder: f.SortOrder})
	}
	for _, d := range documents {
		key := parentKey(d.ParentID)
		children[key] = append(children[key], treeItem{id: d.ID, title: d.Title, sortOrder: d.SortOrder})
	}
	for key := range children {
		items := children[key]
		sort.SliceStable(items, func(i, j int) bool { return items[i].sortOrder < items[j].sortOrder })
	}

	result := make([]ComparableDocument, 0, len(documents))
	entered := make(map[string]struct{}, len(folders))
	stack := []*walkFrame{{items: children[""]}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		if frame.next >= len(frame.items) {
			stack = stack[:len(stack)-1]
			continue
		}
		item := frame.items[frame.next]
		frame.next++

		if item.folder {
			// A parent cycle in corrupt data must not loop forever.
			if _, ok := entered[item.id]; ok {
				continue
			}
			entered[item.id] = struct{}{}
			stack = append(stack, &walkFrame{items: children[item.id]})
			continue
		}

		doc, err := c.load(ctx, manuscriptID, item)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, nil
}

func (c *Collector) load(ctx context.Context, manuscriptID string, item treeItem) (ComparableDocument, error) {
	html, err := c.content.Read(ctx, manuscriptID, item.id)
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			return ComparableDocument{}, fmt.Errorf("read content %s: %w", item.id, err)
		}
		html = ""
	}
	return NewComparableDocument(manuscriptID, item.id, item.title, html), nil
}

// NewComparableDocument derives the plaintext and word count of a stored html body.
func NewComparableDocument(manuscriptID, documentID, title, html string) ComparableDocument {
	text := plaintext.StripHTML(html)
	return ComparableDocument{
		ID:           documentID,
		Title:        title,
		ManuscriptID: manuscriptID,
		WordCount:    plaintext.CountWords(text),
		Plaintext:    text,
		HTML:         html,
	}
}

func parentKey(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}
