package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, doc *Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO documents (id, filename, content_type, size_bytes, storage_path, content, markdown, page_count, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		doc.ID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.StoragePath, doc.Content, doc.Markdown, doc.PageCount, metadata,
	).Scan(&doc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	var metadata []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, filename, content_type, size_bytes, storage_path, content, markdown, page_count, metadata, created_at
		 FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.Filename, &doc.ContentType, &doc.SizeBytes, &doc.StoragePath, &doc.Content, &doc.Markdown, &doc.PageCount, &metadata, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decode document metadata: %w", err)
	}
	return &doc, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, filename, content_type, size_bytes, storage_path, page_count, metadata, created_at
		 FROM documents ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var metadata []byte
		if err := rows.Scan(&d.ID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.StoragePath, &d.PageCount, &metadata, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode document metadata: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
