package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const mojangAPIBase = "https://api.mojang.com"

// MojangResolver resolves Minecraft UUIDs to usernames and back through the
// Mojang profile API, with a bidirectional in-memory cache. Lookup failures
// are returned to the caller, never cached.
type MojangResolver struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	byUUID map[string]string
	byName map[string]string
}

func NewMojangResolver() *MojangResolver {
	return &MojangResolver{
		baseURL: mojangAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		byUUID:  make(map[string]string),
		byName:  make(map[string]string),
	}
}

// UsernameForUUID returns the current username for a Minecraft UUID.
func (r *MojangResolver) UsernameForUUID(ctx context.Context, id string) (string, error) {
	r.mu.RLock()
	name, ok := r.byUUID[id]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	short := strings.ReplaceAll(id, "-", "")
	var names []struct {
		Name string `json:"name"`
	}
	if err := r.getJSON(ctx, fmt.Sprintf("%s/user/profiles/%s/names", r.baseURL, short), &names); err != nil {
		return "", fmt.Errorf("lookup username for %s: %w", id, err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no profile for uuid %s", id)
	}
	name = names[len(names)-1].Name

	r.cache(id, name)
	return name, nil
}

// UUIDForUsername returns the canonical (dashed) UUID for a username.
func (r *MojangResolver) UUIDForUsername(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(name)
	r.mu.RLock()
	id, ok := r.byName[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	var profile struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := r.getJSON(ctx, fmt.Sprintf("%s/users/profiles/minecraft/%s", r.baseURL, name), &profile); err != nil {
		return "", fmt.Errorf("lookup uuid for %s: %w", name, err)
	}
	parsed, err := uuid.Parse(profile.ID)
	if err != nil {
		return "", fmt.Errorf("malformed uuid %q from mojang: %w", profile.ID, err)
	}
	id = parsed.String()

	r.cache(id, profile.Name)
	return id, nil
}

func (r *MojangResolver) cache(id, name string) {
	r.mu.Lock()
	r.byUUID[id] = name
	r.byName[strings.ToLower(name)] = id
	r.mu.Unlock()
}

func (r *MojangResolver) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mojang API returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
