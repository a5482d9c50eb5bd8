package document

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrEmpty           = errors.New("document has no extractable text")
)

type Document struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	StoragePath string            `json:"storage_path,omitempty"`
	Content     string            `json:"content,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
	PageCount   int               `json:"page_count"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Repository persists documents. List returns documents newest first without
// Content and Markdown.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context, limit, offset int) ([]Document, error)
}
