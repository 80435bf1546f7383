package harnessports

import "context"

// RateLimiter gates calls to the remote services per key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
