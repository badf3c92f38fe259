// Package changelog implements a change-data-capture consumer for a
// partitioned, versioned key-value store. It subscribes to a store's
// physical version topics and change-capture topics, reassembles chunked
// records, tracks replication checkpoints to filter stale writes, and
// transparently follows version cutovers so callers see one logical
// change stream regardless of how many physical versions the store has
// gone through.
package changelog
