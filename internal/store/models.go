package store

import "time"

// FolderTypeVariant tags folders created by a merge to hold alternative versions of one document.
const FolderTypeVariant = "variant"

type Manuscript struct {
	ID        string
	Title     string
	Subtitle  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

type Folder struct {
	ID           string
	ManuscriptID string
	ParentID     *string
	Title        string
	FolderType   string
	SortOrder    float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID             string
	ManuscriptID   string
	ParentID       *string
	Title          string
	Synopsis       string
	WordCount      int
	CompileInclude bool
	SortOrder      float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type AuditEntry struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	CreatedAt  time.Time
}

// SearchText is the plaintext row kept for full-text search of one document.
type SearchText struct {
	DocumentID   string
	ManuscriptID string
	Title        string
	Content      string
}
