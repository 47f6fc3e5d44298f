package domain

import "fmt"

// FetchPolicy controls whether cached data alone may satisfy a query
type FetchPolicy string

const (
	CacheOnly       FetchPolicy = "cache-only"
	CacheFirst      FetchPolicy = "cache-first"
	CacheAndNetwork FetchPolicy = "cache-and-network"
	NoCache         FetchPolicy = "no-cache"
)

func ParseFetchPolicy(raw string) (FetchPolicy, error) {
	switch FetchPolicy(raw) {
	case CacheOnly, CacheFirst, CacheAndNetwork, NoCache:
		return FetchPolicy(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFetchPolicy, raw)
}

// Cacheable reports whether queries with this policy read and write the cache
func (p FetchPolicy) Cacheable() bool {
	return p != NoCache
}
