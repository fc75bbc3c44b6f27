package platform

import (
	"context"
	"fmt"
	"sort"

	"amplify/internal/logging"
	"amplify/internal/model"
)

// Content is what gets published: body text and an optional media URL.
type Content struct {
	Text     string
	MediaURL string
}

// Credentials are an already-refreshed access token plus the account the
// platform publishes as (LinkedIn author URN, Facebook page id, Instagram
// business account id). Twitter only needs the token.
type Credentials struct {
	AccessToken string
	AccountID   string
}

// Published identifies the remote post created by Publish.
type Published struct {
	ExternalID string
	URL        string
}

// Adapter is the uniform contract over one social platform.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, c Content, creds Credentials) (Published, error)
	// GetMetrics is best-effort: failures yield zeroed metrics.
	GetMetrics(ctx context.Context, externalID string, creds Credentials) model.Metrics
	Delete(ctx context.Context, externalID string, creds Credentials) error
}

// MetricsFetcher is implemented by adapters that can report why a metrics
// read failed, so callers can retry before falling back to zeroes.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context, externalID string, creds Credentials) (model.Metrics, error)
}

func bestEffort(platform, externalID string, m model.Metrics, err error) model.Metrics {
	if err != nil {
		logging.Warn("metrics_fetch_failed", map[string]any{"platform": platform, "external_id": externalID, "error": err.Error()})
		return model.Metrics{}
	}
	return m
}

// CredentialStore returns valid tokens for an owner on a platform.
type CredentialStore interface {
	Credentials(ctx context.Context, ownerID, platform string) (Credentials, error)
}

// StaticCredentials serves the same credentials to every owner.
type StaticCredentials map[string]Credentials

func (s StaticCredentials) Credentials(ctx context.Context, ownerID, platform string) (Credentials, error) {
	c, ok := s[platform]
	if !ok || c.AccessToken == "" {
		return Credentials{}, &PlatformError{Platform: platform, Reason: ReasonAuthExpired, Message: "no credentials configured"}
	}
	return c, nil
}

// Registry maps platform names to adapters.
type Registry struct{ adapters map[string]Adapter }

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q", name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
