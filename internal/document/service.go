// Package document ingests uploaded files and serves their text to the
// request front door.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/nikhilbhutani/docstream/internal/cache"
	"github.com/nikhilbhutani/docstream/internal/storage"
	"github.com/nikhilbhutani/docstream/pkg/textextract"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	idTimeFormat     = "20060102_150405"
)

type Service struct {
	repo     Repository
	storage  storage.Storage
	bucket   string
	cache    *cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithStorage keeps the original upload and its markdown rendering in bucket.
func WithStorage(s storage.Storage, bucket string) Option {
	return func(svc *Service) {
		svc.storage = s
		svc.bucket = bucket
	}
}

// WithCache serves Content through a read-through cache.
func WithCache(c *cache.Cache, ttl time.Duration) Option {
	return func(svc *Service) {
		svc.cache = c
		svc.cacheTTL = ttl
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload extracts the text of a file, renders it as markdown and persists it.
// The document id is the file's base name followed by the upload time.
func (s *Service) Upload(ctx context.Context, filename string, data []byte) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !textextract.Supported(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	extracted, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), ext)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filename, err)
	}
	if strings.TrimSpace(extracted.Content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, filename)
	}

	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	uploadedAt := s.now().UTC()
	doc := &Document{
		ID:          fmt.Sprintf("%s_%s", stem, uploadedAt.Format(idTimeFormat)),
		Filename:    base,
		ContentType: contentType(ext),
		SizeBytes:   int64(len(data)),
		Content:     extracted.Content,
		Markdown:    renderMarkdown(stem, extracted.Pages),
		PageCount:   len(extracted.Pages),
		Metadata: map[string]string{
			"source_type":     extracted.Metadata["type"],
			"processing_date": uploadedAt.Format(idTimeFormat),
		},
		CreatedAt: uploadedAt,
	}

	var stored []string
	if s.storage != nil {
		stored, err = s.store(ctx, doc, data)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		s.cleanup(ctx, stored)
		return nil, err
	}

	slog.Info("document uploaded", "document_id", doc.ID, "pages", doc.PageCount, "bytes", doc.SizeBytes)
	return doc, nil
}

func (s *Service) store(ctx context.Context, doc *Document, data []byte) ([]string, error) {
	original := doc.ID + "/" + doc.Filename
	if err := s.storage.Upload(ctx, s.bucket, original, bytes.NewReader(data), doc.ContentType); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	stem := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
	rendered := doc.ID + "/" + stem + ".md"
	if err := s.storage.Upload(ctx, s.bucket, rendered, strings.NewReader(doc.Markdown), "text/markdown"); err != nil {
		s.cleanup(ctx, []string{original})
		return nil, fmt.Errorf("store markdown: %w", err)
	}

	doc.StoragePath = original
	doc.Metadata["original_url"] = s.storage.GetPublicURL(s.bucket, original)
	doc.Metadata["markdown_url"] = s.storage.GetPublicURL(s.bucket, rendered)
	return []string{original, rendered}, nil
}

func (s *Service) cleanup(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := s.storage.Delete(context.WithoutCancel(ctx), s.bucket, p); err != nil {
			slog.Warn("failed to remove stored object", "path", p, "error", err)
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)
	return s.repo.List(ctx, limit, offset)
}

// Content returns the extracted text of a document, or ErrNotFound.
func (s *Service) Content(ctx context.Context, id string) (string, error) {
	if s.cache != nil {
		var content string
		err := s.cache.Get(ctx, id, &content)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("document cache read failed", "document_id", id, "error", err)
		}
	}

	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, id, doc.Content, s.cacheTTL); err != nil {
			slog.Warn("document cache write failed", "document_id", id, "error", err)
		}
	}
	return doc.Content, nil
}

func contentType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
