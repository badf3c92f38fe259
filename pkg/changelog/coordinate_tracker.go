package changelog

import "sync"

// CoordinateTracker holds, per partition, the highest replication
// checkpoint observed so far, and decides whether an incoming record
// represents progress or is a stale replay that should be dropped. It is
// populated from two sources: ordinary records as they are accepted, and
// VERSION_SWAP control messages, which seed the new version's partitions
// with the old version's final high-watermark so records written to the
// new version before the old one's tail was fully drained are not
// double-applied.
type CoordinateTracker struct {
	mu             sync.Mutex
	highWatermarks map[int32]ReplicationCheckpoint
}

// NewCoordinateTracker returns an empty tracker.
func NewCoordinateTracker() *CoordinateTracker {
	return &CoordinateTracker{
		highWatermarks: make(map[int32]ReplicationCheckpoint),
	}
}

// ShouldFilter reports whether a record carrying checkpoint for partition
// should be dropped as stale: true when the partition's current
// high-watermark has already advanced over (or equal to) checkpoint on
// every component, i.e. checkpoint represents no new progress.
//
// A nil or empty checkpoint never advances anything and is never filtered
// on that basis — callers without replication metadata (e.g. a
// single-data-center store) always accept records.
func (t *CoordinateTracker) ShouldFilter(partition int32, checkpoint ReplicationCheckpoint) bool {
	if len(checkpoint) == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	hwm, ok := t.highWatermarks[partition]
	if !ok {
		return false
	}
	return !checkpoint.hasAdvancedOver(hwm)
}

// Advance merges checkpoint into partition's high-watermark. Call after a
// record has been accepted (ShouldFilter returned false) and processed.
func (t *CoordinateTracker) Advance(partition int32, checkpoint ReplicationCheckpoint) {
	if len(checkpoint) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.highWatermarks[partition] = t.highWatermarks[partition].merge(checkpoint)
}

// UpdateOnVersionSwap seeds partition's high-watermark from a VERSION_SWAP
// control message's carried checkpoint, so the incoming new version's
// early records are correctly judged against the old version's tail.
func (t *CoordinateTracker) UpdateOnVersionSwap(partition int32, checkpoint ReplicationCheckpoint) {
	t.Advance(partition, checkpoint)
}

// Reset drops partition's high-watermark, so the next record on it is
// accepted whatever its checkpoint. ChangeConsumer does not call it: its
// subscribe and seek methods keep the partition's high-watermark.
func (t *CoordinateTracker) Reset(partition int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.highWatermarks, partition)
}

// HighWatermark returns partition's current checkpoint, or nil if none has
// been observed.
func (t *CoordinateTracker) HighWatermark(partition int32) ReplicationCheckpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highWatermarks[partition]
}
