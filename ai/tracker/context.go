package tracker

import "context"

type entityIDKey struct{}

// WithEntityID returns a context that attributes usage rows written beneath
// it to the given entity (a reel job ID in this codebase). Client packages
// consult it when a collaborator interface has no room for the ID.
func WithEntityID(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, entityIDKey{}, entityID)
}

// EntityIDFromContext reports the entity ID carried by ctx, if any.
func EntityIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(entityIDKey{}).(string)
	return id, ok && id != ""
}
