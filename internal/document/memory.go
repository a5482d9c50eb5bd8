package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps documents in process memory. It backs the API when
// no database is configured.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]Document)}
}

func (r *MemoryRepository) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &doc, nil
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]Document, error) {
	r.mu.RLock()
	docs := make([]Document, 0, len(r.docs))
	for _, d := range r.docs {
		d.Content, d.Markdown = "", ""
		docs = append(docs, d)
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if offset >= len(docs) {
		return []Document{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}
