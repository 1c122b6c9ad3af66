package cache

import "github.com/koinos/koinos-state-db/core/common"

// ErrNotCached indicates the requested key is not present in the cache.
// It is not a failure signal on its own - callers fall through to the
// backing store on a miss.
var ErrNotCached = common.NewError("not_cached", "key not present in cache")
