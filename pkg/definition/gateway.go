package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lyzr/coordinator/internal/cache"
)

// Kind identifies which table of the definition store a Get targets.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindTask     Kind = "task"
)

// Store is the read-only facade over the external definition store
// (catalog of workspaces/projects/actions/prompts/models/definitions).
// The coordinator never writes to it.
type Store interface {
	GetWorkflow(ctx context.Context, id, version string) (*Workflow, error)
	GetTask(ctx context.Context, id, version string) (*Task, error)
}

// ErrNotFound is returned by a Store when (kind, id, version) is unknown.
var ErrNotFound = fmt.Errorf("definition: not found")

// HTTPStore is a Store backed by a synchronous HTTP GET against the
// definition store's read API, modeled on the teacher's
// common/clients/orchestrator.go client shape.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a Store that fetches definitions over HTTP.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{baseURL: baseURL, client: client}
}

func (s *HTTPStore) GetWorkflow(ctx context.Context, id, version string) (*Workflow, error) {
	var w Workflow
	if err := s.get(ctx, KindWorkflow, id, version, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *HTTPStore) GetTask(ctx context.Context, id, version string) (*Task, error) {
	var t Task
	if err := s.get(ctx, KindTask, id, version, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *HTTPStore) get(ctx context.Context, kind Kind, id, version string, dest any) error {
	url := fmt.Sprintf("%s/%s/%s/%s", s.baseURL, kind, id, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("definition: build request for %s %s@%s: %w", kind, id, version, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("definition: fetch %s %s@%s: %w", kind, id, version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s@%s: %w", kind, id, version, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("definition: %s %s@%s returned status %d", kind, id, version, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("definition: decode %s %s@%s: %w", kind, id, version, err)
	}
	return nil
}

// Gateway wraps a Store with a per-run cache (internal/cache.MemoryCache,
// keyed by "kind:id:version"). One Gateway is created per workflow run and
// discarded at run termination, per spec §5's "Shared resources" paragraph.
type Gateway struct {
	store Store
	cache *cache.MemoryCache
}

// NewGateway creates a per-run cached facade over store.
func NewGateway(store Store, c *cache.MemoryCache) *Gateway {
	return &Gateway{store: store, cache: c}
}

func cacheKeyFor(kind Kind, id, version string) string {
	return fmt.Sprintf("%s:%s:%s", kind, id, version)
}

// Workflow fetches a workflow definition, warming the cache lazily.
func (g *Gateway) Workflow(ctx context.Context, id, version string) (*Workflow, error) {
	key := cacheKeyFor(KindWorkflow, id, version)
	if raw, ok, _ := g.cache.Get(ctx, key); ok {
		var w Workflow
		if err := json.Unmarshal(raw, &w); err == nil {
			return &w, nil
		}
	}
	w, err := g.store.GetWorkflow(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("definition: workflow %s@%s failed validation: %w", id, version, err)
	}
	g.put(ctx, key, w)
	return w, nil
}

// Task fetches a task definition, warming the cache lazily.
func (g *Gateway) Task(ctx context.Context, id, version string) (*Task, error) {
	key := cacheKeyFor(KindTask, id, version)
	if raw, ok, _ := g.cache.Get(ctx, key); ok {
		var t Task
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
	}
	t, err := g.store.GetTask(ctx, id, version)
	if err != nil {
		return nil, err
	}
	g.put(ctx, key, t)
	return t, nil
}

func (g *Gateway) put(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = g.cache.Set(ctx, key, raw)
}

// Discard drops every cached entry. Call at run termination.
func (g *Gateway) Discard() {
	_ = g.cache.Close()
}
