package version

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// JSONGetter fetches a URL and decodes its JSON body.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, v interface{}) error
}

// ErrNoVersion is returned when the registry answered without a usable version.
var ErrNoVersion = errors.New("registry response carried no version")

// NPMRegistry looks up the latest published SDK version from the npm
// registry's dist-tag document. Successful answers are cached for ttl and
// concurrent lookups share one request.
type NPMRegistry struct {
	client JSONGetter
	url    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	cached    string
	fetchedAt time.Time
}

// NewNPMRegistry creates a registry client for url, e.g.
// https://registry.npmjs.org/@adyen/adyen-web/latest.
func NewNPMRegistry(client JSONGetter, url string, ttl time.Duration, logger *zap.Logger) *NPMRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NPMRegistry{
		client: client,
		url:    url,
		ttl:    ttl,
		logger: logger.Named("npm_registry"),
		now:    time.Now,
	}
}

type npmLatest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FetchLatestVersion returns the latest version, from cache when fresh.
func (r *NPMRegistry) FetchLatestVersion(ctx context.Context) (string, error) {
	if v, ok := r.fromCache(); ok {
		return v, nil
	}

	v, err, _ := r.group.Do(r.url, func() (interface{}, error) {
		if v, ok := r.fromCache(); ok {
			return v, nil
		}
		var doc npmLatest
		if err := r.client.GetJSON(ctx, r.url, &doc); err != nil {
			return "", fmt.Errorf("fetch latest version: %w", err)
		}
		if _, ok := Parse(doc.Version); !ok {
			return "", fmt.Errorf("%w: %q", ErrNoVersion, doc.Version)
		}

		r.mu.Lock()
		r.cached = doc.Version
		r.fetchedAt = r.now()
		r.mu.Unlock()
		r.logger.Debug("Fetched latest SDK version.", zap.String("version", doc.Version))
		return doc.Version, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *NPMRegistry) fromCache() (string, bool) {
	if r.ttl <= 0 {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == "" || r.now().Sub(r.fetchedAt) >= r.ttl {
		return "", false
	}
	return r.cached, true
}
