package changelog

import "time"

// ChangeEventType distinguishes a write from a delete in the decoded
// change stream; the wire encoding for each differs (see ChangeConsumer's
// data-message decoding rules).
type ChangeEventType int

const (
	// ChangeEventPut is a value write: CurrentValue is populated and, for
	// change-capture topics, PreviousValue may also be populated.
	ChangeEventPut ChangeEventType = iota
	// ChangeEventDelete is a tombstone: CurrentValue is nil.
	ChangeEventDelete
)

func (t ChangeEventType) String() string {
	if t == ChangeEventDelete {
		return "DELETE"
	}
	return "PUT"
}

// ChangeEvent is the fully decoded unit of work handed to callers: a
// before/after pair for one key, already deserialized through the
// resolved reader schema.
type ChangeEvent struct {
	Key           []byte
	CurrentValue  any
	PreviousValue any
	Type          ChangeEventType

	// ValueSchemaID is the writer schema id the value was decoded with.
	ValueSchemaID int32
	// ReplicationCheckpoint is the decoded replication metadata vector
	// carried alongside the record, or nil if the source had none
	// (version-topic records prior to any cross-data-center write).
	ReplicationCheckpoint ReplicationCheckpoint
	// PayloadSize is the size in bytes of the record's value as read off
	// the topic, before decompression and deserialization (for a
	// change-capture record, the whole before/after envelope).
	PayloadSize int
}

// ChangeMessage is the envelope a caller receives from ChangeConsumer.Poll:
// the decoded event plus the coordinate it was read from, so the caller can
// persist progress.
type ChangeMessage struct {
	Partition  int32
	Coordinate Coordinate
	Event      ChangeEvent
	Timestamp  time.Time
}
