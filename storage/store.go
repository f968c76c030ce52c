// Package storage abstracts the artifact destinations a tuning run can
// publish to.
package storage

import "context"

// ObjectStore stages and promotes artifact objects. Keys are slash-separated
// paths relative to the store root.
type ObjectStore interface {
	// Put writes an object at key, creating parents as needed.
	Put(ctx context.Context, key string, body []byte) error
	// Promote makes the object at src fully visible at dst. After a
	// successful promote, src may no longer exist.
	Promote(ctx context.Context, src, dst string) error
	// Discard removes an object. Removing a missing object is not an error.
	Discard(ctx context.Context, key string) error
}
