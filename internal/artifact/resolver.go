package artifact

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/matthewmarion/batchboy/internal/blob"
)

// DefaultReferenceTTL is how long a resolved reference stays valid.
const DefaultReferenceTTL = time.Hour

// ResourceReference is a read-only, time-limited URL to one staged blob.
type ResourceReference struct {
	// Name is the blob's bare name, used as the file name on the worker.
	Name    string
	URL     string
	Expires time.Time
}

// Resolver derives references for every blob in a container.
type Resolver struct {
	store blob.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewResolver returns a resolver issuing references valid for ttl, or
// DefaultReferenceTTL when ttl is not positive.
func NewResolver(store blob.Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	return &Resolver{store: store, ttl: ttl, now: time.Now}
}

// ResolveReferences lists the container and signs a read-only URL for each
// blob. The store is not modified.
func (r *Resolver) ResolveReferences(ctx context.Context, container string) ([]ResourceReference, error) {
	objects, err := r.store.List(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("listing container %s: %w", container, err)
	}

	expires := r.now().Add(r.ttl)
	refs := make([]ResourceReference, 0, len(objects))
	for _, obj := range objects {
		u, err := r.store.SignedURL(ctx, container, obj.Name, expires)
		if err != nil {
			return nil, fmt.Errorf("signing %s/%s: %w", container, obj.Name, err)
		}
		refs = append(refs, ResourceReference{
			Name:    path.Base(obj.Name),
			URL:     u,
			Expires: expires,
		})
	}
	return refs, nil
}
