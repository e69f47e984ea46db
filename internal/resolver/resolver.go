package resolver

import (
	"context"

	"bunkrgrab/internal/model"
)

// Resolved is a direct, byte-fetchable link for one media item.
type Resolved struct {
	URL      string
	FileName string
}

// Resolver produces a direct link for an item's reference page. Fast (HTML)
// and fallback (rendering) implementations share this interface; the
// coordinator decides which one an item goes through.
type Resolver interface {
	Resolve(ctx context.Context, item *model.MediaItem) (*Resolved, error)
}
