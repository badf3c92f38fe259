package changelog

import "fmt"

// Coordinate is an opaque, resumable position within a single physical
// topic-partition: the topic name, partition index, and the offset of the
// last message consumed from it. Callers persist a Coordinate per partition
// to resume a subscription across process restarts via SeekToCheckpoint.
type Coordinate struct {
	Topic     string
	Partition int32
	Offset    int64
}

// EarliestOffset is the sentinel offset meaning "start of the topic,"
// passed through unchanged by SeekToCheckpoint instead of being
// decremented like every other offset (see TopicPartitionManager.seek).
const EarliestOffset int64 = -1

func (c Coordinate) String() string {
	return fmt.Sprintf("%s[%d]@%d", c.Topic, c.Partition, c.Offset)
}

// ReplicationCheckpoint is a per-data-center vector clock attached to a
// change event's replication metadata. Component i advances each time a
// write from data center i is applied; it is compared component-wise
// against a partition's high-watermark vector to decide whether an
// incoming record is stale (already reflected downstream) or fresh.
type ReplicationCheckpoint []int64

// hasAdvancedOver reports whether any component of c is strictly greater
// than the corresponding component of other — the "any-component-advanced"
// predicate used to decide whether a record represents progress relative
// to a previously observed checkpoint. Vectors of differing length are
// compared up to the shorter length; a longer vector's extra components
// are treated as advancing (a new data center is progress by definition).
func (c ReplicationCheckpoint) hasAdvancedOver(other ReplicationCheckpoint) bool {
	if len(c) > len(other) {
		return true
	}
	for i := range c {
		if c[i] > other[i] {
			return true
		}
	}
	return false
}

// merge returns the component-wise maximum of c and other, widening to the
// longer of the two vectors. Used to advance a partition's high-watermark
// after a fresh record is accepted.
func (c ReplicationCheckpoint) merge(other ReplicationCheckpoint) ReplicationCheckpoint {
	a, b := c, other
	if len(b) > len(a) {
		a, b = b, a
	}
	out := make(ReplicationCheckpoint, len(a))
	copy(out, a)
	for i := range b {
		if b[i] > out[i] {
			out[i] = b[i]
		}
	}
	return out
}
