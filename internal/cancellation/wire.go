package cancellation

import "context"

// Wire calls onAbort once token is cancelled.
// The returned stop function unregisters onAbort and reports whether it did so before it ran.
func Wire(token context.Context, onAbort func()) func() bool {
	if token == nil || token.Done() == nil {
		// Never cancelled
		return func() bool { return true }
	}
	return context.AfterFunc(token, onAbort)
}
