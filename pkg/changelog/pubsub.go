package changelog

import (
	"context"
	"time"
)

// ControlMessageType enumerates the reserved control messages a
// PubSubConsumer must surface to the caller alongside ordinary data
// records. Negative schema ids are reserved for these on the wire; the
// PubSubConsumer implementation is responsible for recognizing them and
// setting Envelope.Control rather than requiring ChangeConsumer to inspect
// raw schema ids itself.
type ControlMessageType int

const (
	ControlMessageNone ControlMessageType = iota
	ControlMessageStartOfPush
	ControlMessageEndOfPush
	ControlMessageStartOfSegment
	ControlMessageEndOfSegment
	ControlMessageVersionSwap
	ControlMessageChunk
	ControlMessageChunkManifest
)

// CompressionStrategy identifies how a version's records are compressed on
// the wire, as announced by that version's StartOfPush control message.
type CompressionStrategy int

const (
	CompressionNone CompressionStrategy = iota
	CompressionGzip
	CompressionZstdWithDict
)

// VersionSwapPayload is the decoded body of a VERSION_SWAP control message:
// the store is cutting over from OldServingVersion to NewServingVersion,
// carrying the old version's final high-watermark per partition so the new
// version's early records can be filtered against it.
type VersionSwapPayload struct {
	OldServingVersion int
	NewServingVersion int
	// LocalHighWatermarks is the old version's replication checkpoint for
	// the partition the VERSION_SWAP arrived on.
	LocalHighWatermarks ReplicationCheckpoint
}

// StartOfPushPayload is the decoded body of a START_OF_PUSH control
// message: announces the compression strategy for the version, and for
// ZSTD_WITH_DICT carries the dictionary bytes inline.
type StartOfPushPayload struct {
	Compression       CompressionStrategy
	CompressionDictionary []byte
}

// ChunkPayload is a single fragment of a chunked record: the reserved
// CHUNK schema id message, keyed by (partition, ChunkedKeyPrefix).
type ChunkPayload struct {
	ChunkedKeyPrefix []byte
	ChunkIndex       int
	ChunkData        []byte
}

// ChunkManifestPayload is the reserved CHUNK_MANIFEST message closing a
// chunk sequence: the total chunk count, the schema id to deserialize the
// reassembled bytes with, and (for value chunks) the replication
// checkpoint for the whole reassembled record.
type ChunkManifestPayload struct {
	ChunkCount            int
	FinalValueSchemaID    int32
	ReplicationCheckpoint ReplicationCheckpoint
}

// Envelope is one message read off a PubSubConsumer, already classified as
// either a control message or an ordinary data record. PubSubConsumer
// implementations are responsible for recognizing the reserved negative
// schema ids on the wire and populating exactly one of the payload fields.
type Envelope struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time

	Key   []byte
	Value []byte

	// SchemaID is the writer schema id for Value, or one of the reserved
	// negative sentinels when this is a control/chunk message.
	SchemaID int32

	Control         ControlMessageType
	StartOfPush     *StartOfPushPayload
	VersionSwap     *VersionSwapPayload
	Chunk           *ChunkPayload
	ChunkManifest   *ChunkManifestPayload

	// ReplicationCheckpoint, when non-nil, is the decoded replication
	// metadata vector for this record, as set by the PubSubConsumer
	// implementation (the kafka adapter reads it from a record header).
	// ChangeConsumer uses it as given for every topic; it does not decode
	// replication metadata through an RMD schema.
	ReplicationCheckpoint ReplicationCheckpoint
}

// TopicPartition identifies one physical partition of one physical topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// PubSubConsumer is the broker client contract ChangeConsumer is built
// against. It is intentionally narrow and transport-agnostic: this package
// ships one concrete implementation (pkg/changelog/kafka) but any broker
// client satisfying this interface, including an in-memory fake for tests,
// works identically.
type PubSubConsumer interface {
	// Subscribe begins consuming tp after the given offset: the first
	// message delivered is the one at offset+1, except for EarliestOffset,
	// which starts at the first available message. Subscribe does not
	// touch other topics' bindings for the same partition;
	// TopicPartitionManager unsubscribes the old topic before rebinding.
	Subscribe(ctx context.Context, tp TopicPartition, offset int64) error
	// Unsubscribe stops consuming tp. A no-op if not subscribed.
	Unsubscribe(ctx context.Context, tp TopicPartition) error
	// Pause/Resume suspend and restore delivery for tp without losing the
	// subscription's position.
	Pause(ctx context.Context, tp TopicPartition) error
	Resume(ctx context.Context, tp TopicPartition) error
	// Poll blocks up to timeout for available messages across all
	// subscribed, non-paused partitions.
	Poll(ctx context.Context, timeout time.Duration) ([]Envelope, error)
	// EndOffset returns the next-to-be-written offset for tp, used by
	// SeekToEndOfPush/SeekToTail.
	EndOffset(ctx context.Context, tp TopicPartition) (int64, error)
	// OffsetForTimestamp returns the earliest offset at or after ts.
	OffsetForTimestamp(ctx context.Context, tp TopicPartition, ts time.Time) (int64, error)
	// Close releases all broker resources. Idempotent.
	Close() error
}
