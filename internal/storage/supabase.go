// Package storage keeps uploaded originals and rendered markdown in Supabase
// object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Storage interface {
	Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error
	Delete(ctx context.Context, bucket, path string) error
	GetPublicURL(bucket, path string) string
}

type SupabaseStorage struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStorage(supabaseURL, serviceKey string) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL:    strings.TrimRight(supabaseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (s *SupabaseStorage) objectURL(bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, url.PathEscape(bucket), strings.Join(segments, "/"))
}

// do sends an authenticated request and returns the status code, closing the
// body. Error statuses come back with a short excerpt of the body.
func (s *SupabaseStorage) do(req *http.Request) (int, error) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Upload writes the object, replacing any previous version at path.
func (s *SupabaseStorage) Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(bucket, path), data)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=3600")

	if _, err := s.do(req); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// Delete removes the object. A missing object is not an error.
func (s *SupabaseStorage) Delete(ctx context.Context, bucket, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(bucket, path), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}

	status, err := s.do(req)
	if status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *SupabaseStorage) GetPublicURL(bucket, path string) string {
	return strings.Replace(s.objectURL(bucket, path), "/object/", "/object/public/", 1)
}
