package reporting

import (
	"context"
	"maps"
	"time"

	"github.com/Amund211/coalesce/internal/domain"
)

type reportingMetaContextKey struct{}

// ReportingMeta is the request metadata attached to every error reported for it
type ReportingMeta struct {
	tags        map[string]string
	extras      map[string]string
	requesterID string
	startedAt   time.Time
}

func MetaFromContext(ctx context.Context) ReportingMeta {
	meta, _ := ctx.Value(reportingMetaContextKey{}).(ReportingMeta)

	meta.tags = maps.Clone(meta.tags)
	if meta.tags == nil {
		meta.tags = make(map[string]string)
	}
	meta.extras = maps.Clone(meta.extras)
	if meta.extras == nil {
		meta.extras = make(map[string]string)
	}
	return meta
}

// updateMeta stores a modified copy of the meta in ctx
func updateMeta(ctx context.Context, update func(meta *ReportingMeta)) context.Context {
	meta := MetaFromContext(ctx)
	update(&meta)
	return context.WithValue(ctx, reportingMetaContextKey{}, meta)
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		maps.Copy(meta.tags, tags)
	})
}

// AddResourceToContext records the resource a request reads or writes.
// Paths are unbounded so they go in extras. The policy is left out when empty.
func AddResourceToContext(ctx context.Context, path string, policy domain.FetchPolicy) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.extras["path"] = path
		if policy != "" {
			meta.tags["fetchPolicy"] = string(policy)
		}
	})
}

// SetRequesterInContext reports the requester as the Sentry user
func SetRequesterInContext(ctx context.Context, requesterID string) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.requesterID = requesterID
	})
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	return updateMeta(ctx, func(meta *ReportingMeta) {
		meta.startedAt = startedAt
	})
}
