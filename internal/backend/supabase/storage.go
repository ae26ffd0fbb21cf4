package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Storage uploads objects to the configured bucket under /storage/v1.
type Storage struct{ c *Client }

func (s *Storage) Upload(ctx context.Context, path, contentType string, body io.Reader) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err := s.c.do(ctx, http.MethodPost, "/storage/v1/object/"+s.objectPath(path), requestOptions{
		raw: body,
		headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=3600",
			"x-upsert":      "false",
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (s *Storage) PublicURL(path string) string {
	return s.c.endpoint("/storage/v1/object/public/"+s.objectPath(path), nil)
}

// objectPath is unescaped; endpoint escapes it when rendering the URL.
func (s *Storage) objectPath(path string) string {
	return s.c.bucket + "/" + strings.TrimLeft(path, "/")
}
