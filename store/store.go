// Package store provides the durable set of transaction references
// already accepted as payment.
//
// One contract, three backends: a Redis set for multi-instance
// deployments, a local line-delimited file for single-instance
// deployments, and an in-memory set for tests and ephemeral use. All
// backends canonicalize references to lower-case on write.
//
// The verifier treats its own in-memory set as authoritative for
// read-path membership checks; the store is written through on every
// mutation but not read through on every check, so a verification never
// pays a network or disk round trip for the dedup gate.
package store

import (
	"context"
	"strings"
)

// Store is the backing persistence contract for the processed set.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadAll returns the full set of stored references. Called once at
	// startup; a failure must not prevent the process from starting, but
	// leaves replay protection weakened until a load succeeds.
	LoadAll(ctx context.Context) (map[string]struct{}, error)

	// Add records ref as accepted. Idempotent. The returned added flag
	// reports whether ref was newly stored; backends with an atomic
	// add-if-absent primitive (Redis) make this flag authoritative
	// across instances, closing the check-then-commit race on
	// first acceptance.
	Add(ctx context.Context, ref string) (added bool, err error)

	// Remove deletes ref. Removing an absent reference is a no-op.
	Remove(ctx context.Context, ref string) error

	// Clear empties the store. Administrative and testing use only.
	Clear(ctx context.Context) error
}

// canonical lower-cases a reference so checksummed and lower-case
// spellings of the same transaction map to one stored entry.
func canonical(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}
