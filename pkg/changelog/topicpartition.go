package changelog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// partitionState is the subscription lifecycle for one partition index,
// independent of which physical topic it is currently bound to.
type partitionState int

const (
	stateUnsubscribed partitionState = iota
	stateSubscribed
	statePaused
)

type partitionBinding struct {
	state partitionState
	topic string
}

// TopicPartitionManager owns the subscription set for a ChangeConsumer:
// which partitions are bound to which physical topic, paused or not, and
// serializes subscribe, unsubscribe, pause and resume behind a single
// mutex so that a version cutover's unsubscribe-then-resubscribe sequence
// can never interleave with another seek (Poll is not serialized; see
// Poll below), matching the
// original's synchronized(pubSubConsumer) block around internalSubscribe.
type TopicPartitionManager struct {
	mu       sync.Mutex
	consumer PubSubConsumer
	bindings map[int32]*partitionBinding
}

// NewTopicPartitionManager returns a manager driving consumer.
func NewTopicPartitionManager(consumer PubSubConsumer) *TopicPartitionManager {
	return &TopicPartitionManager{
		consumer: consumer,
		bindings: make(map[int32]*partitionBinding),
	}
}

// Subscribe binds partition to topic, passing offset to the
// PubSubConsumer unchanged (consumption resumes after offset; see seek),
// first unsubscribing any existing binding to a different topic.
func (m *TopicPartitionManager) Subscribe(ctx context.Context, topic string, partition int32, offset int64) *Future {
	f := newFuture()
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if b, ok := m.bindings[partition]; ok && b.state != stateUnsubscribed && b.topic != topic {
			if err := m.consumer.Unsubscribe(ctx, TopicPartition{Topic: b.topic, Partition: partition}); err != nil {
				f.complete(fmt.Errorf("unsubscribing prior topic: %w", err))
				return
			}
		}
		if err := m.consumer.Subscribe(ctx, TopicPartition{Topic: topic, Partition: partition}, offset); err != nil {
			f.complete(err)
			return
		}
		m.bindings[partition] = &partitionBinding{state: stateSubscribed, topic: topic}
		f.complete(nil)
	}()
	return f
}

// SubscribeAll subscribes every partition in [0, partitionCount) to topic
// starting at EarliestOffset.
func (m *TopicPartitionManager) SubscribeAll(ctx context.Context, topic string, partitionCount int) *Future {
	f := newFuture()
	go func() {
		for p := 0; p < partitionCount; p++ {
			if err := m.Subscribe(ctx, topic, int32(p), EarliestOffset).Wait(ctx); err != nil {
				f.complete(fmt.Errorf("partition %d: %w", p, err))
				return
			}
		}
		f.complete(nil)
	}()
	return f
}

// Unsubscribe unbinds partition, a no-op if it has no active binding.
func (m *TopicPartitionManager) Unsubscribe(ctx context.Context, partition int32) *Future {
	f := newFuture()
	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		b, ok := m.bindings[partition]
		if !ok || b.state == stateUnsubscribed {
			f.complete(nil)
			return
		}
		if err := m.consumer.Unsubscribe(ctx, TopicPartition{Topic: b.topic, Partition: partition}); err != nil {
			f.complete(err)
			return
		}
		delete(m.bindings, partition)
		f.complete(nil)
	}()
	return f
}

// UnsubscribeAll unbinds every currently bound partition.
func (m *TopicPartitionManager) UnsubscribeAll(ctx context.Context) *Future {
	f := newFuture()
	go func() {
		m.mu.Lock()
		partitions := make([]int32, 0, len(m.bindings))
		for p := range m.bindings {
			partitions = append(partitions, p)
		}
		m.mu.Unlock()

		for _, p := range partitions {
			if err := m.Unsubscribe(ctx, p).Wait(ctx); err != nil {
				f.complete(err)
				return
			}
		}
		f.complete(nil)
	}()
	return f
}

// Pause suspends delivery for partition without losing its position.
func (m *TopicPartitionManager) Pause(ctx context.Context, partition int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[partition]
	if !ok || b.state == stateUnsubscribed {
		return fmt.Errorf("%w: partition %d", ErrNotSubscribed, partition)
	}
	if err := m.consumer.Pause(ctx, TopicPartition{Topic: b.topic, Partition: partition}); err != nil {
		return err
	}
	b.state = statePaused
	return nil
}

// Resume restores delivery for a paused partition.
func (m *TopicPartitionManager) Resume(ctx context.Context, partition int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[partition]
	if !ok || b.state == stateUnsubscribed {
		return fmt.Errorf("%w: partition %d", ErrNotSubscribed, partition)
	}
	if err := m.consumer.Resume(ctx, TopicPartition{Topic: b.topic, Partition: partition}); err != nil {
		return err
	}
	b.state = stateSubscribed
	return nil
}

// CurrentTopic returns the topic partition is currently bound to.
func (m *TopicPartitionManager) CurrentTopic(partition int32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[partition]
	if !ok || b.state == stateUnsubscribed {
		return "", fmt.Errorf("%w: partition %d", ErrNotSubscribed, partition)
	}
	return b.topic, nil
}

// seek re-subscribes partition to topic at targetOffset, applying the
// seek-is-resume-from-offset-minus-one rule: every offset except
// EarliestOffset is decremented by one before being handed to the broker
// adapter's Subscribe, because that adapter treats the subscribe offset as
// "resume from" rather than "start at." See DESIGN.md's Open Question 2.
func (m *TopicPartitionManager) seek(ctx context.Context, topic string, partition int32, targetOffset int64) *Future {
	offset := targetOffset
	if offset != EarliestOffset {
		offset--
	}
	return m.Subscribe(ctx, topic, partition, offset)
}

// SeekToBeginningOfPush re-subscribes partition to topic at the earliest
// available offset.
func (m *TopicPartitionManager) SeekToBeginningOfPush(ctx context.Context, topic string, partition int32) *Future {
	return m.seek(ctx, topic, partition, EarliestOffset)
}

// SeekToEndOfPush re-subscribes partition to topic at endOffset (the
// offset immediately following the last message currently on the topic).
func (m *TopicPartitionManager) SeekToEndOfPush(ctx context.Context, topic string, partition int32, endOffset int64) *Future {
	return m.seek(ctx, topic, partition, endOffset)
}

// SeekToTail is an alias for SeekToEndOfPush: both resume from the
// topic's current end offset, the distinction being purely the caller's
// intent (catching up to a completed push vs. tailing live writes).
func (m *TopicPartitionManager) SeekToTail(ctx context.Context, topic string, partition int32, endOffset int64) *Future {
	return m.seek(ctx, topic, partition, endOffset)
}

// SeekToTimestamp re-subscribes partition to topic at the first offset at
// or after ts.
func (m *TopicPartitionManager) SeekToTimestamp(ctx context.Context, topic string, partition int32, offsetForTimestamp int64) *Future {
	return m.seek(ctx, topic, partition, offsetForTimestamp)
}

// SeekToCheckpoint resumes partition from a previously persisted
// Coordinate.
func (m *TopicPartitionManager) SeekToCheckpoint(ctx context.Context, checkpoint Coordinate) *Future {
	return m.seek(ctx, checkpoint.Topic, checkpoint.Partition, checkpoint.Offset)
}

// Poll delegates to the underlying PubSubConsumer. It is not itself
// serialized by the manager's mutex: the original's internalPoll runs
// outside the synchronized block so a long poll does not block a
// concurrent version-swap resubscribe from making progress; callers rely
// on the broker client's own concurrency-safety for Poll vs.
// Subscribe/Unsubscribe interleaving.
func (m *TopicPartitionManager) Poll(ctx context.Context, timeout time.Duration) ([]Envelope, error) {
	return m.consumer.Poll(ctx, timeout)
}
