// Package client ties one cache and one request queue to a query and a mutation processor.
package client

import (
	"github.com/Amund211/coalesce/internal/adapters/cache"
	"github.com/Amund211/coalesce/internal/domain"
	"github.com/Amund211/coalesce/internal/processor"
)

type Client[C any] struct {
	cache     cache.Cache[C]
	queries   *processor.QueryProcessor[C]
	mutations *processor.MutationProcessor[C]
}

func New[C any](c cache.Cache[C], queue processor.Queue, execution domain.ExecutionContext) *Client[C] {
	return &Client[C]{
		cache:     c,
		queries:   processor.NewQueryProcessor(c, queue, execution),
		mutations: processor.NewMutationProcessor(c, queue),
	}
}

func (c *Client[C]) Cache() cache.Cache[C] {
	return c.cache
}

func (c *Client[C]) Queries() *processor.QueryProcessor[C] {
	return c.queries
}

func (c *Client[C]) Mutations() *processor.MutationProcessor[C] {
	return c.mutations
}

// Purge aborts every running query and mutation
func (c *Client[C]) Purge() {
	c.queries.Purge()
	c.mutations.Purge()
}

func (c *Client[C]) OnHydrateComplete() {
	c.queries.OnHydrateComplete()
}
