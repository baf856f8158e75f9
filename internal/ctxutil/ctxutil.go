// Package ctxutil provides shared context key accessors.
//
// The server's identity middleware stores the caller's owner id here and
// handlers read it back, so neither side needs to know about the other's
// types. Packages mounted via extra routes can use the same accessors.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const keyOwnerID contextKey = "owner_id"

// WithOwnerID returns a new context carrying the caller's owner id.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, keyOwnerID, ownerID)
}

// OwnerIDFromContext extracts the owner id from the context. Returns
// uuid.Nil when no identity middleware ran for this request.
func OwnerIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyOwnerID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}
