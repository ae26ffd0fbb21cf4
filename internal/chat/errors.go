package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNotOpen          = errors.New("no conversation is open")
	ErrSuperseded       = errors.New("conversation was closed or replaced")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)

// LoadError is returned by Open when history or the live feed could not
// be set up. The conversation is left Idle.
type LoadError struct {
	ThreadID int64
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load thread %d: %v", e.ThreadID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UploadError is returned when an attachment could not be stored. No
// message was sent.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
