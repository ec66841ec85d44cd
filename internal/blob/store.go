package blob

import (
	"context"
	"errors"
	"io"
)

// Ref is an opaque reference to a stored byte object.
type Ref string

// ErrNotFound is returned when a ref does not resolve to stored content.
var ErrNotFound = errors.New("blob: not found")

// Store is the single mutation point for dataset bytes. Content is written
// once under a fresh ref and never updated in place; replacing a dataset's
// bytes means creating a new blob and deleting the old one.
type Store interface {
	// Open returns a streamed reader for the blob's content.
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)

	// Create allocates a new ref derived from name and returns a sink for
	// its content. The blob is durable once the sink is closed.
	Create(ctx context.Context, name string) (io.WriteCloser, Ref, error)

	// Delete removes the blob. Deleting a missing ref returns ErrNotFound.
	Delete(ctx context.Context, ref Ref) error
}
