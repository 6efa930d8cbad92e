// Package store provides the persistent blob store the relay keeps its
// documents and inbound messages in.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists under the key.
// Callers that read optional documents treat it as "empty, not an error".
var ErrNotFound = errors.New("object not found")

// ErrCorruptDocument marks a stored document that exists but cannot be
// decoded. Readers treat the document as empty but surface this error so the
// condition is distinguishable from a missing document.
var ErrCorruptDocument = errors.New("corrupt document")

// Blob is the minimal key/value surface the relay needs from its store.
type Blob interface {
	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error
}
