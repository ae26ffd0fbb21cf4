package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ImagePrefix marks message content that references an uploaded image.
const ImagePrefix = "[IMAGE]:"

type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

type User struct {
	ID    string `json:"id" yaml:"id"`
	Email string `json:"email" yaml:"email"`
}

// Session is an authenticated identity plus the tokens that prove it.
type Session struct {
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
	User         User      `json:"user" yaml:"user"`
}

// Expired reports whether the access token expires within leeway of now.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

type Message struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"thread_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageURL returns the attachment URL if the message is an image reference.
func (m Message) ImageURL() (string, bool) {
	if !strings.HasPrefix(m.Content, ImagePrefix) {
		return "", false
	}
	return strings.TrimPrefix(m.Content, ImagePrefix), true
}

// timestampLayouts covers timestamptz renderings with and without an offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp formats the backends emit. Values
// without an offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if raw.CreatedAt != "" {
		t, err := ParseTimestamp(raw.CreatedAt)
		if err != nil {
			return err
		}
		m.CreatedAt = t
	}
	return nil
}

type Thread struct {
	ID          int64    `json:"id"`
	OtherUser   Profile  `json:"other_user"`
	LastMessage *Message `json:"last_message"`
}
