package local

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/saravenpi/supachat/internal/backend"
)

// DirStorage stores uploaded objects under a directory. Public URLs are
// built from publicURL when set and fall back to file:// URLs.
type DirStorage struct {
	root      string
	publicURL string
}

func NewDirStorage(root, publicURL string) *DirStorage {
	return &DirStorage{root: root, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *DirStorage) Upload(ctx context.Context, path, contentType string, body io.Reader) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(target); err == nil {
		return &backend.APIError{StatusCode: http.StatusConflict, Code: "Duplicate", Message: "the resource already exists"}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(target)
		return fmt.Errorf("failed to write object: %w", err)
	}
	return f.Close()
}

func (s *DirStorage) PublicURL(path string) string {
	clean := filepath.ToSlash(filepath.Clean("/" + path))
	if s.publicURL != "" {
		return s.publicURL + clean
	}
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil {
		abs = filepath.Join(s.root, filepath.FromSlash(clean))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// resolve maps an object path into root, rejecting paths that escape it.
func (s *DirStorage) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" || strings.Contains(path, "..") {
		return "", &backend.APIError{StatusCode: http.StatusBadRequest, Code: "InvalidKey", Message: "invalid object path"}
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
