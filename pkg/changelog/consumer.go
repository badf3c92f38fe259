package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/abd-ulbasit/loomdb/internal/metrics"
)

// versionTopic and changeCaptureTopic mirror the store's physical topic
// naming convention:
// <store>_v<version> for the version topic and <store>_v<version>_cc for
// its change-capture topic.
func versionTopic(store string, version int) string {
	return fmt.Sprintf("%s_v%d", store, version)
}

func changeCaptureTopic(store string, version int) string {
	return fmt.Sprintf("%s_v%d_cc", store, version)
}

func versionFromTopic(topic string) (int, bool) {
	i := strings.LastIndex(topic, "_v")
	if i < 0 {
		return 0, false
	}
	rest := topic[i+2:]
	rest = strings.TrimSuffix(rest, "_cc")
	var version int
	if _, err := fmt.Sscanf(rest, "%d", &version); err != nil {
		return 0, false
	}
	return version, true
}

func isChangeCaptureTopic(topic string) bool {
	return strings.HasSuffix(topic, "_cc")
}

// recordChangeEventEnvelope is the fixed wire protocol a change-capture
// topic's PUT records carry: the value before and after the write, each
// encoded with the record's value schema id. A version-topic PUT carries
// only the after value directly, with no such wrapper.
type recordChangeEventEnvelope struct {
	PreviousValue json.RawMessage `json:"previousValue"`
	CurrentValue  json.RawMessage `json:"currentValue"`
}

// decodeRecordChangeEvent unwraps a change-capture topic PUT's before/after
// pair, running each side through deserializer. A missing or JSON-null
// side (the record's first write, with no prior value) decodes to a nil
// interface rather than an error.
func decodeRecordChangeEvent(data []byte, deserializer Deserializer) (previous, current any, err error) {
	var wire recordChangeEventEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, err
	}
	if len(wire.CurrentValue) > 0 && string(wire.CurrentValue) != "null" {
		if current, err = deserializer(wire.CurrentValue); err != nil {
			return nil, nil, fmt.Errorf("current value: %w", err)
		}
	}
	if len(wire.PreviousValue) > 0 && string(wire.PreviousValue) != "null" {
		if previous, err = deserializer(wire.PreviousValue); err != nil {
			return nil, nil, fmt.Errorf("previous value: %w", err)
		}
	}
	return previous, current, nil
}

// ChangeConsumer is the CDC consumer: it subscribes to a store's change
// stream, reassembles chunked records, tracks replication checkpoints,
// and transparently follows version cutovers, handing callers a single
// logical stream of ChangeMessage values via Poll.
//
// Concurrency model: a single mutex (embedded in TopicPartitionManager)
// serializes every subscribe/unsubscribe/seek/pause/resume call so a
// version-swap resubscribe sequence can never interleave with another
// caller's seek, matching §5 of the design this package implements.
type ChangeConsumer struct {
	id     string
	cfg    ChangeConsumerConfig
	broker *TopicPartitionManager
	meta   MetadataClient

	schemas     *SchemaRegistry
	compressors *CompressorRegistry
	chunks      *ChunkAssembler
	coordinates *CoordinateTracker
	metrics     *metrics.Metrics

	currentVersion atomic.Int64

	pushInfoMu sync.Mutex
	pushInfo   map[int]pushCompressionInfo

	payloadSizeMu sync.Mutex
	payloadSize   map[int32]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// pushCompressionInfo is what a version's START_OF_PUSH control message
// announced about how its records are compressed.
type pushCompressionInfo struct {
	strategy   CompressionStrategy
	dictionary []byte
}

// NewChangeConsumer constructs a ChangeConsumer for cfg.StoreName, driving
// broker via pubsub and resolving schemas/store layout via meta. metrics
// may be nil, in which case instrumentation is skipped (see
// internal/metrics.Metrics for the nil-safe wrapper pattern).
func NewChangeConsumer(ctx context.Context, cfg ChangeConsumerConfig, pubsub PubSubConsumer, meta MetadataClient, dictReader DictionaryReader, m *metrics.Metrics) (*ChangeConsumer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := meta.GetStore(ctx, cfg.StoreName)
	if err != nil {
		return nil, fmt.Errorf("changelog: resolving store %q: %w", cfg.StoreName, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &ChangeConsumer{
		id:          uuid.NewString(),
		cfg:         cfg,
		broker:      NewTopicPartitionManager(pubsub),
		meta:        meta,
		schemas:     NewSchemaRegistry(cfg.StoreName, meta, cfg.ValueDecoder),
		compressors: NewCompressorRegistry(dictReader),
		chunks:      NewChunkAssembler(),
		coordinates: NewCoordinateTracker(),
		metrics:     m,
		pushInfo:    make(map[int]pushCompressionInfo),
		payloadSize: make(map[int32]int),
		ctx:         cctx,
		cancel:      cancel,
	}
	c.currentVersion.Store(int64(store.CurrentVersion))
	return c, nil
}

// SubscribeAll subscribes to every partition of the store's current
// serving version, starting from the earliest available offset.
func (c *ChangeConsumer) SubscribeAll(ctx context.Context) error {
	store, err := c.meta.GetStore(ctx, c.cfg.StoreName)
	if err != nil {
		return fmt.Errorf("changelog: refreshing store before subscribe: %w", err)
	}
	c.currentVersion.Store(int64(store.CurrentVersion))
	topic := versionTopic(c.cfg.StoreName, store.CurrentVersion)
	return c.broker.SubscribeAll(ctx, topic, store.PartitionCount).Wait(ctx)
}

// Subscribe subscribes a single partition of the store's current serving
// version, starting from the earliest available offset.
func (c *ChangeConsumer) Subscribe(ctx context.Context, partition int32) error {
	version := int(c.currentVersion.Load())
	topic := versionTopic(c.cfg.StoreName, version)
	return c.broker.Subscribe(ctx, topic, partition, EarliestOffset).Wait(ctx)
}

// SeekToBeginningOfPush rewinds partition to the start of its current
// version's data.
func (c *ChangeConsumer) SeekToBeginningOfPush(ctx context.Context, partition int32) error {
	version := int(c.currentVersion.Load())
	return c.broker.SeekToBeginningOfPush(ctx, versionTopic(c.cfg.StoreName, version), partition).Wait(ctx)
}

// SeekToEndOfPush advances partition to the end of its current version's
// bulk-loaded data, refreshing the store's layout first per the original's
// storeRepository.refresh() call before reading the serving version.
func (c *ChangeConsumer) SeekToEndOfPush(ctx context.Context, partition int32) error {
	store, err := c.meta.GetStore(ctx, c.cfg.StoreName)
	if err != nil {
		return fmt.Errorf("changelog: refreshing store before seek: %w", err)
	}
	topic := versionTopic(c.cfg.StoreName, store.CurrentVersion)
	end, err := c.endOffset(ctx, topic, partition)
	if err != nil {
		return err
	}
	return c.broker.SeekToEndOfPush(ctx, topic, partition, end).Wait(ctx)
}

// SeekToTail advances partition to the current end of the store's live
// change stream (version topic if no push is in flight, else the future
// version's change-capture topic).
func (c *ChangeConsumer) SeekToTail(ctx context.Context, partition int32) error {
	store, err := c.meta.GetStore(ctx, c.cfg.StoreName)
	if err != nil {
		return fmt.Errorf("changelog: refreshing store before seek: %w", err)
	}
	topic := versionTopic(c.cfg.StoreName, store.CurrentVersion)
	if store.FutureVersion != 0 {
		topic = changeCaptureTopic(c.cfg.StoreName, store.FutureVersion)
	}
	end, err := c.endOffset(ctx, topic, partition)
	if err != nil {
		return err
	}
	return c.broker.SeekToTail(ctx, topic, partition, end).Wait(ctx)
}

// SeekToTimestamp advances partition to the first offset at or after ts.
func (c *ChangeConsumer) SeekToTimestamp(ctx context.Context, partition int32, ts time.Time) error {
	version := int(c.currentVersion.Load())
	topic := versionTopic(c.cfg.StoreName, version)
	offset, err := c.broker.consumer.OffsetForTimestamp(ctx, TopicPartition{Topic: topic, Partition: partition}, ts)
	if err != nil {
		return fmt.Errorf("changelog: resolving offset for timestamp: %w", err)
	}
	return c.broker.SeekToTimestamp(ctx, topic, partition, offset).Wait(ctx)
}

// SeekToCheckpoint resumes partition from a previously persisted
// Coordinate.
func (c *ChangeConsumer) SeekToCheckpoint(ctx context.Context, checkpoint Coordinate) error {
	if version, ok := versionFromTopic(checkpoint.Topic); ok {
		c.currentVersion.Store(int64(version))
	}
	return c.broker.SeekToCheckpoint(ctx, checkpoint).Wait(ctx)
}

// Pause/Resume suspend and restore delivery for a partition.
func (c *ChangeConsumer) Pause(ctx context.Context, partition int32) error  { return c.broker.Pause(ctx, partition) }
func (c *ChangeConsumer) Resume(ctx context.Context, partition int32) error { return c.broker.Resume(ctx, partition) }

// TopicPartition returns the physical topic partition a logical partition
// is currently bound to, per the original's getTopicPartition accessor.
func (c *ChangeConsumer) TopicPartition(partition int32) (TopicPartition, error) {
	topic, err := c.broker.CurrentTopic(partition)
	if err != nil {
		return TopicPartition{}, err
	}
	return TopicPartition{Topic: topic, Partition: partition}, nil
}

// PayloadSize returns the size in bytes of the most recently decoded PUT
// payload on partition, after decompression (for a change-capture record,
// the whole before/after envelope), per the original's
// currentValuePayloadSize tracking.
func (c *ChangeConsumer) PayloadSize(partition int32) int {
	c.payloadSizeMu.Lock()
	defer c.payloadSizeMu.Unlock()
	return c.payloadSize[partition]
}

func (c *ChangeConsumer) endOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	return c.broker.consumer.EndOffset(ctx, TopicPartition{Topic: topic, Partition: partition})
}

// Poll reads and decodes the next batch of change messages, blocking up to
// the configured PollTimeout. Control messages (START_OF_PUSH,
// VERSION_SWAP, CHUNK, CHUNK_MANIFEST) are handled internally and never
// surfaced to the caller; only fully assembled, filtered data records are
// returned.
func (c *ChangeConsumer) Poll(ctx context.Context) ([]ChangeMessage, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrClosed
	default:
	}

	envelopes, err := c.broker.Poll(ctx, c.cfg.PollTimeout)
	if err != nil {
		return nil, fmt.Errorf("changelog: poll: %w", err)
	}

	// switched tracks, per partition, whether a topic cutover (version
	// swap or end-of-push) was applied earlier in this same batch. Once a
	// partition has switched, every remaining envelope in this poll for
	// that partition was read from the topic it just left and is stale by
	// construction, so it is dropped without inspection rather than risking
	// a late old-topic record advancing the high-watermark under the new
	// topic's name (§4.6 step 2, invariant 3).
	switched := make(map[int32]bool)

	var out []ChangeMessage
	for _, env := range envelopes {
		if switched[env.Partition] {
			continue
		}

		switch env.Control {
		case ControlMessageVersionSwap:
			didSwitch, err := c.handleVersionSwap(ctx, env)
			if err != nil {
				c.cfg.Logger.Error("version swap failed", "error", err, "partition", env.Partition)
			} else if didSwitch {
				switched[env.Partition] = true
			}
			continue
		case ControlMessageEndOfPush:
			didSwitch, err := c.handleEndOfPush(ctx, env)
			if err != nil {
				c.cfg.Logger.Error("end of push handling failed", "error", err, "partition", env.Partition)
			} else if didSwitch {
				switched[env.Partition] = true
			}
			continue
		case ControlMessageChunk:
			if env.Chunk != nil {
				c.chunks.BufferChunk(env.Partition, *env.Chunk)
			}
			continue
		case ControlMessageChunkManifest:
			msg, ok, err := c.handleChunkManifest(ctx, env)
			if err != nil {
				c.cfg.Logger.Error("chunk reassembly failed", "error", err, "partition", env.Partition)
				continue
			}
			if ok {
				out = append(out, msg)
			}
			continue
		case ControlMessageStartOfPush:
			if env.StartOfPush != nil {
				if version, ok := versionFromTopic(env.Topic); ok {
					c.pushInfoMu.Lock()
					c.pushInfo[version] = pushCompressionInfo{
						strategy:   env.StartOfPush.Compression,
						dictionary: env.StartOfPush.CompressionDictionary,
					}
					c.pushInfoMu.Unlock()
				}
			}
			continue
		case ControlMessageStartOfSegment, ControlMessageEndOfSegment:
			continue
		}

		msg, ok, err := c.handleDataMessage(ctx, env)
		if err != nil {
			c.cfg.Logger.Error("decoding record failed", "error", err, "partition", env.Partition, "offset", env.Offset)
			continue
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// handleVersionSwap implements the version cutover: re-subscribe the
// affected partition from the old version's topic to the new version's
// topic, seeded at the earliest offset, after seeding the coordinate
// tracker's high-watermark so early records on the new version are
// correctly judged against the old version's tail. Idempotent: a swap to
// the topic a partition is already bound to is a no-op, matching the
// original's switchToNewTopic early return; the returned bool reports
// whether a resubscribe actually happened, so the caller knows whether to
// discard the rest of this partition's batch.
func (c *ChangeConsumer) handleVersionSwap(ctx context.Context, env Envelope) (bool, error) {
	swap := env.VersionSwap
	if swap == nil {
		return false, fmt.Errorf("version swap envelope missing payload")
	}
	newTopic := versionTopic(c.cfg.StoreName, swap.NewServingVersion)
	current, err := c.broker.CurrentTopic(env.Partition)
	if err == nil && current == newTopic {
		return false, nil
	}

	c.coordinates.UpdateOnVersionSwap(env.Partition, swap.LocalHighWatermarks)
	c.chunks.Clear(env.Partition)
	c.compressors.Forget(swap.OldServingVersion)
	c.pushInfoMu.Lock()
	delete(c.pushInfo, swap.OldServingVersion)
	c.pushInfoMu.Unlock()
	c.currentVersion.Store(int64(swap.NewServingVersion))

	if c.metrics != nil {
		c.metrics.VersionCutovers.Inc()
	}
	if err := c.broker.Subscribe(ctx, newTopic, env.Partition, EarliestOffset).Wait(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// handleEndOfPush implements the version-topic-to-change-capture-topic
// cutover: once a version's bulk push has finished, the partition
// switches from <store>_v<v> to <store>_v<v>_cc at the earliest offset,
// and any in-flight chunk fragments for the version topic are dropped
// since they can never be completed on the new topic. Idempotent, like
// handleVersionSwap.
func (c *ChangeConsumer) handleEndOfPush(ctx context.Context, env Envelope) (bool, error) {
	version, ok := versionFromTopic(env.Topic)
	if !ok {
		version = int(c.currentVersion.Load())
	}
	ccTopic := changeCaptureTopic(c.cfg.StoreName, version)
	current, err := c.broker.CurrentTopic(env.Partition)
	if err == nil && current == ccTopic {
		return false, nil
	}

	c.chunks.Clear(env.Partition)
	if err := c.broker.Subscribe(ctx, ccTopic, env.Partition, EarliestOffset).Wait(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *ChangeConsumer) handleChunkManifest(ctx context.Context, env Envelope) (ChangeMessage, bool, error) {
	manifest := env.ChunkManifest
	if manifest == nil {
		return ChangeMessage{}, false, fmt.Errorf("chunk manifest envelope missing payload")
	}
	assembled, err := c.chunks.Assemble(env.Partition, env.Key, *manifest)
	if err != nil {
		return ChangeMessage{}, false, err
	}
	dataEnv := env
	dataEnv.Value = assembled
	dataEnv.SchemaID = manifest.FinalValueSchemaID
	dataEnv.ReplicationCheckpoint = manifest.ReplicationCheckpoint
	dataEnv.Control = ControlMessageNone
	return c.handleDataMessage(ctx, dataEnv)
}

// handleDataMessage decodes one ordinary (non-control, non-chunk) record:
// decompress, deserialize, filter by staleness, and advance the
// high-watermark, per §4.6's data-message decoding rules. DELETE records
// (empty Value) skip decompression/deserialization and always carry a nil
// CurrentValue.
func (c *ChangeConsumer) handleDataMessage(ctx context.Context, env Envelope) (ChangeMessage, bool, error) {
	if c.coordinates.ShouldFilter(env.Partition, env.ReplicationCheckpoint) {
		if c.metrics != nil {
			c.metrics.RecordsFiltered.Inc()
		}
		return ChangeMessage{}, false, nil
	}

	version := int(c.currentVersion.Load())
	if v, ok := versionFromTopic(env.Topic); ok {
		version = v
	}

	event := ChangeEvent{
		Key:                   env.Key,
		ValueSchemaID:         env.SchemaID,
		ReplicationCheckpoint: env.ReplicationCheckpoint,
	}

	if len(env.Value) == 0 {
		event.Type = ChangeEventDelete
	} else {
		event.Type = ChangeEventPut
		event.PayloadSize = len(env.Value)

		c.pushInfoMu.Lock()
		info := c.pushInfo[version]
		c.pushInfoMu.Unlock()

		var decompressed []byte
		var err error
		if isChangeCaptureTopic(env.Topic) {
			comp, cerr := c.compressors.ForChangeCaptureTopic(ctx, env.Topic, version, info.strategy, info.dictionary)
			if cerr != nil {
				return ChangeMessage{}, false, cerr
			}
			decompressed, err = comp.Decompress(env.Value)
		} else {
			comp, cerr := c.compressors.ForVersion(ctx, env.Topic, version, info.strategy, info.dictionary)
			if cerr != nil {
				return ChangeMessage{}, false, cerr
			}
			decompressed, err = comp.Decompress(env.Value)
		}
		if err != nil {
			return ChangeMessage{}, false, fmt.Errorf("decompressing record: %w", err)
		}

		if c.cfg.RecordInterceptor != nil {
			rctx := RecordContext{Partition: env.Partition, Topic: env.Topic, Offset: env.Offset, IsDelete: false}
			if err := c.cfg.RecordInterceptor(rctx, decompressed); err != nil {
				return ChangeMessage{}, false, fmt.Errorf("record interceptor: %w", err)
			}
		}

		deserializer, err := c.schemas.Deserializer(ctx, env.SchemaID)
		if err != nil {
			return ChangeMessage{}, false, err
		}

		if isChangeCaptureTopic(env.Topic) {
			// Change-capture PUTs carry the fixed RecordChangeEvent
			// protocol: both the value before and after the write, so
			// callers can react to the delta rather than only the
			// post-write state a version-topic PUT gives them.
			previous, current, err := decodeRecordChangeEvent(decompressed, deserializer)
			if err != nil {
				return ChangeMessage{}, false, fmt.Errorf("decoding record change event: %w", err)
			}
			event.PreviousValue = previous
			event.CurrentValue = current
		} else {
			value, err := deserializer(decompressed)
			if err != nil {
				return ChangeMessage{}, false, fmt.Errorf("deserializing value: %w", err)
			}
			event.CurrentValue = value
		}

		c.payloadSizeMu.Lock()
		c.payloadSize[env.Partition] = len(decompressed)
		c.payloadSizeMu.Unlock()
		if c.metrics != nil {
			c.metrics.CurrentValueBytes.WithLabelValues(fmt.Sprint(env.Partition)).Set(float64(len(decompressed)))
		}
	}

	c.coordinates.Advance(env.Partition, env.ReplicationCheckpoint)
	if c.metrics != nil {
		c.metrics.RecordsEmitted.Inc()
	}

	return ChangeMessage{
		Partition:  env.Partition,
		Coordinate: Coordinate{Topic: env.Topic, Partition: env.Partition, Offset: env.Offset},
		Event:      event,
		Timestamp:  env.Timestamp,
	}, true, nil
}

// Close unsubscribes every partition and releases broker resources.
// Idempotent.
func (c *ChangeConsumer) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.broker.UnsubscribeAll(ctx).Wait(ctx)
		c.wg.Wait()
	})
	return err
}

// ID returns this consumer instance's unique identifier, used in logging.
func (c *ChangeConsumer) ID() string { return c.id }
