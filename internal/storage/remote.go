// Package storage keeps the local media cache and the remote object store in
// sync. Pages and document versions are produced on whichever worker ran the
// task, published to the remote store, and pulled back lazily by any other
// worker that needs them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound is returned when an object is absent both from the local
// cache and from the remote store.
var ErrObjectNotFound = errors.New("object not found")

// TransportError wraps a failure talking to the remote store (network,
// authentication, permissions). It is never retried by this package.
type TransportError struct {
	Op  string
	Key string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op, key string, err error) error {
	return &TransportError{Op: op, Key: key, Err: err}
}

// Remote is the object store behind the mirror. Keys passed to a Remote are
// already prefixed.
type Remote interface {
	// Exists reports whether key is present. A not-found answer is
	// (false, nil); every other fault is a *TransportError.
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, dst string) error
	Upload(ctx context.Context, src, key string) error
	// SignedURL returns a credential-free GET URL valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
