package domain

import "slices"

// RequestState is the per request id record persisted in the cache
type RequestState struct {
	Error error
	// Requester ids currently attached to an in-flight call for this request id
	Loading []string
}

func (s RequestState) IsLoading(requesterID string) bool {
	return slices.Contains(s.Loading, requesterID)
}

// SameLoading reports whether the loading set contains exactly the given ids, in any order
func (s RequestState) SameLoading(ids []string) bool {
	if len(s.Loading) != len(ids) {
		return false
	}
	for _, id := range ids {
		if !slices.Contains(s.Loading, id) {
			return false
		}
	}
	return true
}
