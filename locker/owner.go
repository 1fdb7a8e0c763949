package locker

import "context"

type ownerKey struct{}

// WithOwner returns a context carrying an explicit owner token. Acquisitions
// under the same owner token are reentrant: repeated acquires of a resource
// share one hold and one connection, and the lock is only given back when
// every acquire has been matched by a release. An owner token must not be
// shared across logically independent holders.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext extracts the owner token set by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}
