package cancellation

import (
	"context"

	"github.com/Amund211/coalesce/internal/domain"
)

// Controller is a broadcast cancellation signal.
//
// Aborting the controller cancels its context with domain.ErrCancelled as the
// cause, which every consumer of Context() observes.
type Controller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewController derives a controller from parent.
//
// Cancellation of parent is ignored: the controller only fires through Abort.
// Values (loggers, spans) of parent are kept.
func NewController(parent context.Context) *Controller {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	return &Controller{ctx: ctx, cancel: cancel}
}

func (c *Controller) Context() context.Context {
	return c.ctx
}

func (c *Controller) Abort() {
	c.cancel(domain.ErrCancelled)
}

func (c *Controller) Aborted() bool {
	return c.ctx.Err() != nil
}

// Err maps the outcome of work run under the controller.
//
// Any failure after the controller was aborted is reported as
// domain.ErrCancelled, so all callers see one distinguished error.
func (c *Controller) Err(err error) error {
	if err == nil || !c.Aborted() {
		return err
	}
	return context.Cause(c.ctx)
}
