package changelog

import "context"

// StoreInfo is the control-plane view of a store's current physical
// layout, refreshed on demand rather than cached across the consumer's
// lifetime (the serving version can change underneath a long-lived
// subscription; see SPEC_FULL.md's store-repository-refresh supplement).
type StoreInfo struct {
	Name            string
	CurrentVersion  int
	FutureVersion   int // 0 if no push is in flight
	PartitionCount  int
}

// MetadataClient is the control-plane contract ChangeConsumer uses to
// resolve a store's topic names, partition count, serving version, and
// schemas. Implementations typically call out to a router/controller
// service; pkg/changelog ships no concrete implementation since the
// control-plane wire protocol is out of scope (spec.md §1), but
// metadataclient.HTTPClient in pkg/metadataclient demonstrates a
// realistic one.
type MetadataClient interface {
	// GetStore returns the current physical layout for storeName. Always
	// hits the control plane; callers needing caching should wrap this.
	GetStore(ctx context.Context, storeName string) (StoreInfo, error)
	// GetKeySchema returns the (immutable, single) key schema for a store.
	GetKeySchema(ctx context.Context, storeName string) (*Schema, error)
	// GetValueSchema resolves a specific value schema id for a store.
	GetValueSchema(ctx context.Context, storeName string, schemaID int32) (*Schema, error)
	// GetLatestValueSchema returns the most recently registered value
	// schema for a store.
	GetLatestValueSchema(ctx context.Context, storeName string) (*Schema, error)
	// GetReplicationMetadataSchema resolves the replication-metadata schema
	// for a given value schema id and RMD protocol version.
	GetReplicationMetadataSchema(ctx context.Context, storeName string, valueSchemaID int32, rmdVersion int) (*Schema, error)
}
