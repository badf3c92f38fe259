package changelog

import (
	"context"
	"testing"
	"time"
)

func newTestConsumer(t *testing.T, fake *fakePubSubConsumer, meta *fakeMetadataClient) *ChangeConsumer {
	t.Helper()
	cfg := DefaultChangeConsumerConfig("widgets")
	c, err := NewChangeConsumer(context.Background(), cfg, fake, meta, nil, nil)
	if err != nil {
		t.Fatalf("NewChangeConsumer: %v", err)
	}
	return c
}

func TestChangeConsumerSubscribeAllUsesCurrentVersion(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)

	if err := c.SubscribeAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	for p := int32(0); p < 4; p++ {
		if _, ok := fake.subscribedOffset(TopicPartition{Topic: "widgets_v1", Partition: p}); !ok {
			t.Fatalf("partition %d not subscribed", p)
		}
	}
}

func TestChangeConsumerPollDecodesPutRecord(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 5,
		Key: []byte("k1"), Value: []byte(`{"name":"gizmo"}`), SchemaID: 1,
	})

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Event.Type != ChangeEventPut {
		t.Fatalf("got type %v, want PUT", msgs[0].Event.Type)
	}
	if msgs[0].Coordinate.Offset != 5 {
		t.Fatalf("got offset %d, want 5", msgs[0].Coordinate.Offset)
	}
}

func TestChangeConsumerPollDecodesDeleteRecord(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 1, Key: []byte("k1"),
	})

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Event.Type != ChangeEventDelete {
		t.Fatalf("got %#v", msgs)
	}
	if msgs[0].Event.CurrentValue != nil {
		t.Fatal("delete record must not carry a current value")
	}
}

func TestChangeConsumerFiltersStaleRecordsAcrossPoll(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 1, Key: []byte("k1"),
		Value: []byte(`{"n":1}`), SchemaID: 1, ReplicationCheckpoint: ReplicationCheckpoint{5},
	})
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 2, Key: []byte("k1"),
		Value: []byte(`{"n":2}`), SchemaID: 1, ReplicationCheckpoint: ReplicationCheckpoint{3},
	})
	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected stale record to be filtered, got %d messages", len(msgs))
	}
}

func TestChangeConsumerVersionSwapResubscribes(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 9,
		Control: ControlMessageVersionSwap,
		VersionSwap: &VersionSwapPayload{
			OldServingVersion:   1,
			NewServingVersion:   2,
			LocalHighWatermarks: ReplicationCheckpoint{10},
		},
	})

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	topic, err := c.TopicPartition(0)
	if err != nil {
		t.Fatal(err)
	}
	if topic.Topic != "widgets_v2" {
		t.Fatalf("got topic %q, want widgets_v2", topic.Topic)
	}
}

func TestChangeConsumerEndOfPushSwitchesToChangeCaptureTopic(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 42,
		Control: ControlMessageEndOfPush,
	})

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	tp, err := c.TopicPartition(0)
	if err != nil {
		t.Fatal(err)
	}
	if tp.Topic != "widgets_v1_cc" {
		t.Fatalf("got topic %q, want widgets_v1_cc", tp.Topic)
	}
	if _, ok := fake.subscribedOffset(TopicPartition{Topic: "widgets_v1_cc", Partition: 0}); !ok {
		t.Fatal("expected change-capture topic to be subscribed")
	}
}

func TestChangeConsumerEndOfPushClearsChunkAssembler(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	prefix := []byte("in-flight-key")
	c.chunks.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("partial")})

	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 1,
		Control: ControlMessageEndOfPush,
	})
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := c.chunks.Assemble(0, prefix, ChunkManifestPayload{ChunkCount: 1}); err == nil {
		t.Fatal("expected in-flight chunk state to have been cleared by end of push")
	}
}

func TestChangeConsumerDropsRemainderOfBatchAfterSwitch(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	// A VERSION_SWAP followed, in the very same batch, by a stray record
	// still addressed to the old topic. The old-topic record must never
	// be emitted: it was read before the resubscribe took effect and is
	// stale by construction once the partition has moved on.
	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 9,
		Control: ControlMessageVersionSwap,
		VersionSwap: &VersionSwapPayload{
			OldServingVersion:   1,
			NewServingVersion:   2,
			LocalHighWatermarks: ReplicationCheckpoint{10},
		},
	})
	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 10, Key: []byte("k1"),
		Value: []byte(`{"n":1}`), SchemaID: 1, ReplicationCheckpoint: ReplicationCheckpoint{99},
	})

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected stray old-topic record in the same batch to be dropped, got %d messages", len(msgs))
	}
}

func TestChangeConsumerDecodesChangeCaptureRecordChangeEvent(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.broker.Subscribe(context.Background(), "widgets_v1_cc", 0, EarliestOffset).Wait(context.Background())

	fake.enqueue(TopicPartition{Topic: "widgets_v1_cc", Partition: 0}, Envelope{
		Topic: "widgets_v1_cc", Partition: 0, Offset: 1, Key: []byte("k1"),
		Value:    []byte(`{"previousValue":{"name":"old"},"currentValue":{"name":"new"}}`),
		SchemaID: 1,
	})

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	before, ok := msgs[0].Event.PreviousValue.(map[string]any)
	if !ok || before["name"] != "old" {
		t.Fatalf("got previous value %#v", msgs[0].Event.PreviousValue)
	}
	after, ok := msgs[0].Event.CurrentValue.(map[string]any)
	if !ok || after["name"] != "new" {
		t.Fatalf("got current value %#v", msgs[0].Event.CurrentValue)
	}
}

func TestChangeConsumerReassemblesChunkedRecord(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	prefix := []byte("chunked-key")
	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 1,
		Control: ControlMessageChunk,
		Chunk:   &ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte(`{"n":`)},
	})
	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 2,
		Control: ControlMessageChunk,
		Chunk:   &ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 1, ChunkData: []byte(`7}`)},
	})
	fake.enqueue(TopicPartition{Topic: "widgets_v1", Partition: 0}, Envelope{
		Topic: "widgets_v1", Partition: 0, Offset: 3, Key: prefix,
		Control:       ControlMessageChunkManifest,
		ChunkManifest: &ChunkManifestPayload{ChunkCount: 2, FinalValueSchemaID: 1},
	})

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestChangeConsumerCloseIsIdempotent(t *testing.T) {
	fake := newFakePubSubConsumer()
	meta := &fakeMetadataClient{value: map[int32]*Schema{1: {ID: 1, Raw: `{"type":"object"}`}}}
	c := newTestConsumer(t, fake, meta)
	c.SubscribeAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
}
