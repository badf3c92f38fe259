package changelog

import "context"

// Future is a handle to an asynchronous broker operation (subscribe,
// seek, pause), returned rather than blocking the caller, matching the
// teacher's async-subscribe idiom in pkg/client/consumer.go realized
// without a callback-style API.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the operation completes or ctx is done, whichever
// comes first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolvedFuture returns a Future that is already complete with err.
func resolvedFuture(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}
