package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled              = errors.New("request cancelled")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrInvalidFetchPolicy     = errors.New("invalid fetch policy")
	ErrUpstream               = errors.New("upstream error")
)

// UpstreamStatusError is a non-2xx response from the upstream API
type UpstreamStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error {
	return ErrUpstream
}
