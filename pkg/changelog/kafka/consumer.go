// Package kafka provides a concrete changelog.PubSubConsumer backed by a
// real Kafka client (github.com/twmb/franz-go), grounded on
// fabricekabongo-chronicles's internal/ingest/kafka adapter: direct
// (non-group) partition consumption built from a validated Config, one
// kgo.Client per Consumer, translating kgo.Record headers into the
// envelope's control-message classification.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/abd-ulbasit/loomdb/pkg/changelog"
)

// Reserved negative schema ids identifying chunk fragments and their
// closing manifest on the wire, mirroring the reserved-id convention
// spec.md's data model calls out for chunked records.
const (
	chunkSchemaID         int32 = -10
	chunkManifestSchemaID int32 = -11
)

// Header names this adapter's wire convention uses to carry out-of-band
// metadata a franz-go kgo.Record doesn't otherwise have a slot for.
const (
	headerSchemaID              = "schema-id"
	headerControlType           = "control-type"
	headerReplicationCheckpoint = "replication-checkpoint"
)

// Config configures a Consumer, matching the withDefaults/Validate shape
// of fabricekabongo-chronicles's kafka adapter Config.
type Config struct {
	Brokers []string
	// ClientID identifies this consumer to the broker for logging/quota
	// purposes.
	ClientID string
}

func (c *Config) withDefaults() {
	if c.ClientID == "" {
		c.ClientID = "loomdb-changelog-consumer"
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: Brokers must not be empty")
	}
	return nil
}

// Consumer implements changelog.PubSubConsumer over direct (non-group)
// Kafka partition consumption: callers manage offsets themselves via
// Subscribe/SeekTo*, matching a CDC consumer's need for arbitrary,
// per-partition resumable positions rather than a shared consumer-group
// assignment.
type Consumer struct {
	cfg    Config
	client *kgo.Client
}

// NewConsumer dials brokers and returns a Consumer with no partitions
// assigned; call Subscribe to begin consuming.
func NewConsumer(cfg Config, opts ...kgo.Opt) (*Consumer, error) {
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	kopts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	}, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	return &Consumer{cfg: cfg, client: cl}, nil
}

func kgoOffset(offset int64) kgo.Offset {
	if offset == changelog.EarliestOffset {
		return kgo.NewOffset().AtStart()
	}
	return kgo.NewOffset().At(offset + 1)
}

// Subscribe adds tp to the client's direct partition assignment, resuming
// after offset (the first record fetched is offset+1; EarliestOffset
// starts at the beginning). Overwrites any existing assignment for tp.
func (c *Consumer) Subscribe(ctx context.Context, tp changelog.TopicPartition, offset int64) error {
	c.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{
		tp.Topic: {tp.Partition: kgoOffset(offset)},
	})
	return nil
}

// Unsubscribe removes tp from the client's assignment.
func (c *Consumer) Unsubscribe(ctx context.Context, tp changelog.TopicPartition) error {
	c.client.RemoveConsumePartitions(map[string][]int32{tp.Topic: {tp.Partition}})
	return nil
}

// Pause suspends fetching for tp without losing its assignment.
func (c *Consumer) Pause(ctx context.Context, tp changelog.TopicPartition) error {
	c.client.PauseFetchPartitions(map[string][]int32{tp.Topic: {tp.Partition}})
	return nil
}

// Resume restores fetching for a previously paused tp.
func (c *Consumer) Resume(ctx context.Context, tp changelog.TopicPartition) error {
	c.client.ResumeFetchPartitions(map[string][]int32{tp.Topic: {tp.Partition}})
	return nil
}

// Poll fetches available records across every assigned, non-paused
// partition, translating each into a changelog.Envelope.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]changelog.Envelope, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pctx)
	if fetches.IsClientClosed() {
		return nil, changelog.ErrClosed
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("kafka: poll: %w", errs[0].Err)
	}

	var out []changelog.Envelope
	fetches.EachRecord(func(rec *kgo.Record) {
		env, err := recordToEnvelope(rec)
		if err != nil {
			return
		}
		out = append(out, env)
	})
	return out, nil
}

// EndOffset returns tp's high watermark. A full implementation would use
// kadm.Client.ListEndOffsets; this adapter instead probes by assigning the
// partition at AtEnd() and reading back the offset the broker resolved it
// to, avoiding a second admin-client dependency for one call.
func (c *Consumer) EndOffset(ctx context.Context, tp changelog.TopicPartition) (int64, error) {
	return c.probeOffset(ctx, tp, kgo.NewOffset().AtEnd())
}

// OffsetForTimestamp resolves the earliest offset at or after ts.
func (c *Consumer) OffsetForTimestamp(ctx context.Context, tp changelog.TopicPartition, ts time.Time) (int64, error) {
	return c.probeOffset(ctx, tp, kgo.NewOffset().AfterMilli(ts.UnixMilli()))
}

// probeOffset assigns tp at the requested logical offset on a short-lived
// basis and reads back the physical offset the broker resolved it to,
// then restores no assignment (callers re-Subscribe at the resolved
// offset immediately after).
func (c *Consumer) probeOffset(ctx context.Context, tp changelog.TopicPartition, want kgo.Offset) (int64, error) {
	c.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{tp.Topic: {tp.Partition: want}})
	defer c.client.RemoveConsumePartitions(map[string][]int32{tp.Topic: {tp.Partition}})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	fetches := c.client.PollFetches(pctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		return 0, fmt.Errorf("kafka: probing offset: %w", errs[0].Err)
	}
	var resolved int64
	found := false
	fetches.EachRecord(func(rec *kgo.Record) {
		if !found {
			resolved = rec.Offset
			found = true
		}
	})
	if !found {
		return 0, nil
	}
	return resolved, nil
}

// Close releases the underlying Kafka client.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

func recordToEnvelope(rec *kgo.Record) (changelog.Envelope, error) {
	env := changelog.Envelope{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
		Key:       rec.Key,
		Value:     rec.Value,
	}

	for _, h := range rec.Headers {
		switch h.Key {
		case headerSchemaID:
			id, err := strconv.ParseInt(string(h.Value), 10, 32)
			if err != nil {
				return env, fmt.Errorf("kafka: parsing %s header: %w", headerSchemaID, err)
			}
			env.SchemaID = int32(id)
		case headerReplicationCheckpoint:
			var rc changelog.ReplicationCheckpoint
			if err := json.Unmarshal(h.Value, &rc); err != nil {
				return env, fmt.Errorf("kafka: parsing %s header: %w", headerReplicationCheckpoint, err)
			}
			env.ReplicationCheckpoint = rc
		}
	}

	var controlType string
	for _, h := range rec.Headers {
		if h.Key == headerControlType {
			controlType = string(h.Value)
		}
	}

	switch {
	case controlType == "START_OF_PUSH":
		var p changelog.StartOfPushPayload
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return env, err
		}
		env.Control = changelog.ControlMessageStartOfPush
		env.StartOfPush = &p
	case controlType == "END_OF_PUSH":
		env.Control = changelog.ControlMessageEndOfPush
	case controlType == "START_OF_SEGMENT":
		env.Control = changelog.ControlMessageStartOfSegment
	case controlType == "END_OF_SEGMENT":
		env.Control = changelog.ControlMessageEndOfSegment
	case controlType == "VERSION_SWAP":
		var p changelog.VersionSwapPayload
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return env, err
		}
		env.Control = changelog.ControlMessageVersionSwap
		env.VersionSwap = &p
	case env.SchemaID == chunkSchemaID:
		var p changelog.ChunkPayload
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return env, err
		}
		env.Control = changelog.ControlMessageChunk
		env.Chunk = &p
	case env.SchemaID == chunkManifestSchemaID:
		var p changelog.ChunkManifestPayload
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return env, err
		}
		env.Control = changelog.ControlMessageChunkManifest
		env.ChunkManifest = &p
	}

	return env, nil
}
