package changelog

import (
	"context"
	"sync"
	"time"
)

// fakePubSubConsumer is an in-memory PubSubConsumer used by this
// package's own tests, standing in for a real broker client the way a
// caller's test double would.
type fakePubSubConsumer struct {
	mu          sync.Mutex
	subscribed  map[TopicPartition]int64
	pending     map[TopicPartition][]Envelope
	endOffsets  map[TopicPartition]int64
	paused      map[TopicPartition]bool
	subscribeErr error
}

func newFakePubSubConsumer() *fakePubSubConsumer {
	return &fakePubSubConsumer{
		subscribed: make(map[TopicPartition]int64),
		pending:    make(map[TopicPartition][]Envelope),
		endOffsets: make(map[TopicPartition]int64),
		paused:     make(map[TopicPartition]bool),
	}
}

func (f *fakePubSubConsumer) Subscribe(ctx context.Context, tp TopicPartition, offset int64) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[tp] = offset
	return nil
}

func (f *fakePubSubConsumer) Unsubscribe(ctx context.Context, tp TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, tp)
	return nil
}

func (f *fakePubSubConsumer) Pause(ctx context.Context, tp TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[tp] = true
	return nil
}

func (f *fakePubSubConsumer) Resume(ctx context.Context, tp TopicPartition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[tp] = false
	return nil
}

func (f *fakePubSubConsumer) Poll(ctx context.Context, timeout time.Duration) ([]Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for tp, msgs := range f.pending {
		if f.paused[tp] {
			continue
		}
		out = append(out, msgs...)
		f.pending[tp] = nil
	}
	return out, nil
}

func (f *fakePubSubConsumer) EndOffset(ctx context.Context, tp TopicPartition) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endOffsets[tp], nil
}

func (f *fakePubSubConsumer) OffsetForTimestamp(ctx context.Context, tp TopicPartition, ts time.Time) (int64, error) {
	return 0, nil
}

func (f *fakePubSubConsumer) Close() error { return nil }

func (f *fakePubSubConsumer) enqueue(tp TopicPartition, env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[tp] = append(f.pending[tp], env)
}

func (f *fakePubSubConsumer) subscribedOffset(tp TopicPartition) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	off, ok := f.subscribed[tp]
	return off, ok
}
