package rpcdef

import "context"

// Future is a single-assignment, single-consumer deferred result: a
// handler that cannot answer synchronously returns
// a *Future from a goroutine it spawns itself, and Handler.Invoke blocks
// on Wait before serializing the response. A pending client call is
// itself represented as a *Future under the hood (see the pending map of
// client.Client).
type Future struct {
	done chan struct{}
	val  interface{}
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve assigns the Future's value. Calling Resolve or Reject more than
// once panics; a Future is single-assignment.
func (f *Future) Resolve(val interface{}) {
	f.val = val
	close(f.done)
}

// Reject assigns the Future's error.
func (f *Future) Reject(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the Future is resolved or rejected, or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the Future has already been resolved or rejected,
// without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
