// Package kv provides the key-value persistence engine meeting records live in.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("kv: key not found")

// VisitFunc is called for each stored entry during Iterate.
// Returning a non-nil error stops the iteration and is returned by Iterate.
type VisitFunc func(key string, value []byte) error

// Store is the opaque persistence engine. Each call is atomic for a single
// key; there are no cross-key transactions and no schema enforcement, so
// callers validate the shape of what they read.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Iterate visits every entry in key order.
	Iterate(ctx context.Context, visit VisitFunc) error

	// Close releases the underlying resources.
	Close() error
}

// ErrStop can be returned from a VisitFunc to end iteration early without error.
var ErrStop = errors.New("kv: stop iteration")

// IterateAll runs Iterate and treats ErrStop as a clean finish.
func IterateAll(ctx context.Context, s Store, visit VisitFunc) error {
	err := s.Iterate(ctx, visit)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}
