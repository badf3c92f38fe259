package changelog

import "errors"

// Sentinel errors for conditions callers are expected to check for and
// branch on. Wrap with fmt.Errorf("...: %w", err) at call boundaries when
// additional context is available.
var (
	// ErrNotSubscribed is returned when an operation requires an active
	// subscription on a partition that has none.
	ErrNotSubscribed = errors.New("changelog: partition not subscribed")

	// ErrAlreadySubscribed reports a partition already bound to a different
	// topic than requested. TopicPartitionManager.Subscribe does not return
	// it: it unsubscribes the prior topic and rebinds the partition.
	ErrAlreadySubscribed = errors.New("changelog: partition already subscribed to a different topic")

	// ErrUnknownPartition reports a partition index outside the store's
	// partition count. No operation in this package returns it; partition
	// indexes are not range-checked.
	ErrUnknownPartition = errors.New("changelog: unknown partition")

	// ErrDictionaryUnavailable is returned when a ZSTD_WITH_DICT compressor
	// is requested for a version whose dictionary has not been published
	// yet (the StartOfPush control message has not been observed).
	ErrDictionaryUnavailable = errors.New("changelog: compression dictionary not yet available")

	// ErrUnsupportedCompression is returned for a compression strategy this
	// registry does not implement.
	ErrUnsupportedCompression = errors.New("changelog: unsupported compression strategy")

	// ErrSchemaNotFound is returned when a schema id cannot be resolved,
	// neither from the in-memory cache nor from the backing MetadataClient.
	ErrSchemaNotFound = errors.New("changelog: schema not found")

	// ErrChunkManifestMismatch is returned when a CHUNK_MANIFEST arrives
	// whose declared chunk count does not match the buffered fragments.
	ErrChunkManifestMismatch = errors.New("changelog: chunk manifest does not match buffered fragments")

	// ErrClosed is returned by ChangeConsumer.Poll after Close, and by the
	// kafka adapter's Poll once its client is closed. Other operations do
	// not check for it.
	ErrClosed = errors.New("changelog: consumer is closed")

	// ErrInvalidConfig is returned by NewChangeConsumer when the supplied
	// configuration fails validation.
	ErrInvalidConfig = errors.New("changelog: invalid configuration")
)
