// Package flow holds the short-lived identify→login handshake state.
//
// A Flow ties a password check to a user resolved by an earlier identify call.
// Flows expire after a fixed window and are logically absent once expired,
// whether or not the backing store has evicted them yet.
package flow

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a flow stays usable after creation.
const DefaultTTL = 300 * time.Second

// ErrFlowNotFound is returned for unknown, deleted, or expired flows.
var ErrFlowNotFound = errors.New("flow not found or expired")

// Flow is a snapshot of one handshake. Stores hand out copies; mutate through the Store.
type Flow struct {
	ID        string
	Username  string
	Attempts  int
	ExpiresAt time.Time
}

// Expired reports whether the flow is past its window at now.
func (f *Flow) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// Store brokers flows. Implementations are safe for concurrent use without
// caller-side locking.
type Store interface {
	// Create inserts a flow with a fresh id that is not live in the store.
	Create(ctx context.Context, username string) (*Flow, error)
	// Get returns the flow if present and unexpired, ErrFlowNotFound otherwise.
	Get(ctx context.Context, id string) (*Flow, error)
	// Delete removes the flow. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// IncrementAttempts atomically bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Consume removes a live flow in one step. Of several concurrent callers
	// exactly one gets nil; the rest, and any caller after expiry, get ErrFlowNotFound.
	Consume(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that need expired entries evicted explicitly.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Options configures store implementations.
type Options struct {
	TTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
	// NewID overrides id generation; nil means random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = newUUID
	}
	return o
}

// maxIDCollisions bounds how many times Create regenerates a colliding id.
const maxIDCollisions = 8

var errIDExhausted = errors.New("flow: could not allocate a unique id")
