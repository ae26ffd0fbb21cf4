package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

// Composer sends text and attachments into a Conversation.
type Composer struct {
	conv    *Conversation
	storage backend.Storage
	clock   clock.Clock
	logger  *slog.Logger
}

func NewComposer(conv *Conversation, storage backend.Storage, c clock.Clock, logger *slog.Logger) *Composer {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{conv: conv, storage: storage, clock: c, logger: logger.With("component", "composer")}
}

// Send posts text. Whitespace-only text is rejected with ErrEmptyMessage.
func (c *Composer) Send(ctx context.Context, text string) (*models.Message, error) {
	return c.conv.Send(ctx, text)
}

// SendAttachment uploads body as <self>/<unix millis>-<name> and posts an
// image reference to its public URL. Upload failures return *UploadError
// and send nothing.
func (c *Composer) SendAttachment(ctx context.Context, name string, body io.Reader) (*models.Message, error) {
	// Uploading before the thread is live would leave an orphaned object.
	if c.conv.State() != Live {
		return nil, ErrNotOpen
	}

	path := fmt.Sprintf("%s/%d-%s", c.conv.Self(), c.clock.Now().UnixMilli(), SanitizeFileName(name))
	contentType, body := sniffContentType(name, body)

	if err := c.storage.Upload(ctx, path, contentType, body); err != nil {
		c.logger.Error("attachment upload failed", "path", path, "error", err)
		return nil, &UploadError{Path: path, Err: err}
	}

	msg, err := c.conv.Send(ctx, models.ImagePrefix+c.storage.PublicURL(path))
	if err != nil {
		// The object stays in storage with nothing referencing it.
		c.logger.Warn("attachment uploaded but message not sent", "path", path, "error", err)
		return nil, err
	}
	return msg, nil
}

// SendFile attaches the file at path.
func (c *Composer) SendFile(ctx context.Context, path string) (*models.Message, error) {
	path = expandHome(strings.TrimSpace(path))
	f, err := os.Open(path)
	if err != nil {
		return nil, &UploadError{Path: path, Err: err}
	}
	defer f.Close()
	return c.SendAttachment(ctx, filepath.Base(path), f)
}

// SanitizeFileName keeps letters, digits, dot, dash and underscore.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// sniffContentType uses the extension, falling back to the first bytes.
func sniffContentType(name string, body io.Reader) (string, io.Reader) {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct, body
	}
	br := bufio.NewReaderSize(body, 512)
	head, _ := br.Peek(512)
	return http.DetectContentType(head), br
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
