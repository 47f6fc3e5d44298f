// Package fetchpolicy decides whether a query needs a network call and whether it may issue one.
package fetchpolicy

import "github.com/Amund211/coalesce/internal/domain"

// Cached is what the cache currently holds for a request
type Cached struct {
	HasData    bool
	Optimistic bool
	HasError   bool
}

// Sufficient reports whether cached data can stand in for a network response.
// Optimistic data never counts as sufficient.
func (c Cached) Sufficient() bool {
	return c.HasData && !c.Optimistic
}

type Query struct {
	Policy                        domain.FetchPolicy
	PreventExcessRequestOnHydrate bool
	DisableSSR                    bool
}

// Required reports whether the query needs a network call
func Required(q Query, cached Cached, phase domain.Phase) bool {
	switch {
	case q.Policy == domain.CacheOnly:
		return false
	case q.Policy == domain.NoCache:
		return true
	case q.Policy == domain.CacheFirst && cached.Sufficient():
		return false
	case q.PreventExcessRequestOnHydrate && phase == domain.PhaseHydrating && cached.Sufficient():
		return false
	}
	return true
}

// Allowed reports whether a call may be issued in the given execution context
func Allowed(q Query, cached Cached, execution domain.ExecutionContext) bool {
	if execution != domain.ExecutionServerRender {
		return true
	}
	return !q.DisableSSR &&
		q.Policy.Cacheable() &&
		!cached.HasData &&
		!cached.HasError
}
