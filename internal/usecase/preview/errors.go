// Package preview provides the link preview use cases: resolving a URL to a
// metadata record and managing the record cache.
package preview

import "errors"

// ErrCacheUnavailable wraps cache failures surfaced by the management operations.
// Resolve never returns it; a broken cache only costs a refetch there.
var ErrCacheUnavailable = errors.New("preview cache unavailable")
