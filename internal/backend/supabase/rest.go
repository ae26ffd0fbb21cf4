package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/models"
)

// Rest reads and writes rows through PostgREST under /rest/v1.
type Rest struct{ c *Client }

const threadsRPC = "get_threads_for_user"

func (r *Rest) ListThreads(ctx context.Context) ([]models.Thread, error) {
	var threads []models.Thread
	err := r.c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+threadsRPC, requestOptions{body: map[string]any{}}, &threads)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

func (r *Rest) Messages(ctx context.Context, threadID int64) ([]models.Message, error) {
	query := url.Values{
		"select":    {"*"},
		"thread_id": {"eq." + strconv.FormatInt(threadID, 10)},
		"order":     {"created_at.asc,id.asc"},
	}

	var messages []models.Message
	if err := r.c.do(ctx, http.MethodGet, "/rest/v1/messages", requestOptions{query: query}, &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

func (r *Rest) InsertMessage(ctx context.Context, msg backend.NewMessage) (*models.Message, error) {
	var rows []models.Message
	err := r.c.do(ctx, http.MethodPost, "/rest/v1/messages", requestOptions{
		body:    []backend.NewMessage{msg},
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to send message: no row returned")
	}
	return &rows[0], nil
}

func (r *Rest) SearchProfiles(ctx context.Context, term, excludeID string, limit int) ([]models.Profile, error) {
	query := url.Values{
		"select":    {"id,full_name,avatar_url"},
		"full_name": {"ilike.*" + escapePattern(term) + "*"},
		"order":     {"full_name.asc"},
		"limit":     {strconv.Itoa(limit)},
	}
	if excludeID != "" {
		query.Set("id", "neq."+excludeID)
	}

	var profiles []models.Profile
	if err := r.c.do(ctx, http.MethodGet, "/rest/v1/profiles", requestOptions{query: query}, &profiles); err != nil {
		return nil, fmt.Errorf("failed to search profiles: %w", err)
	}
	return profiles, nil
}

func (r *Rest) Profile(ctx context.Context, id string) (*models.Profile, error) {
	query := url.Values{
		"select": {"id,full_name,avatar_url"},
		"id":     {"eq." + id},
		"limit":  {"1"},
	}

	var profiles []models.Profile
	if err := r.c.do(ctx, http.MethodGet, "/rest/v1/profiles", requestOptions{query: query}, &profiles); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if len(profiles) == 0 {
		return nil, backend.ErrNotFound
	}
	return &profiles[0], nil
}

func (r *Rest) InsertProfile(ctx context.Context, profile models.Profile) error {
	err := r.c.do(ctx, http.MethodPost, "/rest/v1/profiles", requestOptions{
		body:    []models.Profile{profile},
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (r *Rest) FindThread(ctx context.Context, userA, userB string) (int64, error) {
	query := url.Values{
		"select": {"id"},
		"or":     {pairFilter(userA, userB)},
		"limit":  {"1"},
	}

	var rows []struct {
		ID int64 `json:"id"`
	}
	if err := r.c.do(ctx, http.MethodGet, "/rest/v1/threads", requestOptions{query: query}, &rows); err != nil {
		return 0, fmt.Errorf("failed to find thread: %w", err)
	}
	if len(rows) == 0 {
		return 0, backend.ErrNotFound
	}
	return rows[0].ID, nil
}

func (r *Rest) CreateThread(ctx context.Context, user1, user2 string) (int64, error) {
	var rows []struct {
		ID int64 `json:"id"`
	}
	err := r.c.do(ctx, http.MethodPost, "/rest/v1/threads", requestOptions{
		query:   url.Values{"select": {"id"}},
		body:    []map[string]string{{"user1": user1, "user2": user2}},
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return 0, fmt.Errorf("failed to create thread: %w", err)
	}
	if len(rows) == 0 {
		return 0, backend.ErrConflict
	}
	return rows[0].ID, nil
}

// pairFilter matches a thread between a and b in either column order.
func pairFilter(a, b string) string {
	return fmt.Sprintf("(and(user1.eq.%s,user2.eq.%s),and(user1.eq.%s,user2.eq.%s))", a, b, b, a)
}

// escapePattern escapes LIKE wildcards so the term matches literally.
// PostgREST reads * as %, so it is dropped.
func escapePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, ``)
	return r.Replace(term)
}
