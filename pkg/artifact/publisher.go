package artifact

import (
	"context"
	"fmt"
)

// Publisher adapts Cache to dialog.ArtifactPublisher, turning a stored
// artifact's opaque id into a path under the given base path (spec.md
// §6.2: "HTTP GET on a stable path prefix").
type Publisher struct {
	cache    *Cache
	basePath string
}

// NewPublisher returns a Publisher serving URLs under basePath (e.g.
// "/audio"). basePath should not have a trailing slash.
func NewPublisher(cache *Cache, basePath string) *Publisher {
	return &Publisher{cache: cache, basePath: basePath}
}

func (p *Publisher) Publish(ctx context.Context, sessionID string, data []byte, contentType string) (string, error) {
	id := p.cache.Put(sessionID, data, contentType)
	return fmt.Sprintf("%s/%s", p.basePath, id), nil
}
