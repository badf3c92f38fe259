package changelog

import (
	"fmt"
	"log/slog"
	"time"
)

// ChangeConsumerConfig configures a ChangeConsumer, matching the
// teacher's config-with-defaults construction idiom
// (client.DefaultConfig / consumer.DefaultConsumerConfig).
type ChangeConsumerConfig struct {
	// StoreName is the logical store whose change stream to follow.
	StoreName string
	// PollTimeout bounds how long one Poll call waits for messages.
	PollTimeout time.Duration
	// ValueDecoder decodes reassembled record bytes into a Go value.
	// Defaults to GenericJSONDecoder() if nil.
	ValueDecoder Deserializer
	// RMDVersion is the replication-metadata protocol version; Validate
	// rejects negative values. ChangeConsumer does not read it when
	// decoding records: replication checkpoints come from
	// Envelope.ReplicationCheckpoint.
	RMDVersion int
	// RecordInterceptor, if set, is called with the decompressed,
	// reassembled bytes of every data record before final deserialization,
	// mirroring the original's processRecordBytes extension point.
	RecordInterceptor func(ctx RecordContext, decompressed []byte) error

	Logger *slog.Logger
}

// RecordContext is the read-only context handed to a RecordInterceptor.
type RecordContext struct {
	Partition int32
	Topic     string
	Offset    int64
	IsDelete  bool
}

// DefaultChangeConsumerConfig returns a config for storeName with the
// package's defaults filled in.
func DefaultChangeConsumerConfig(storeName string) ChangeConsumerConfig {
	return ChangeConsumerConfig{
		StoreName:   storeName,
		PollTimeout: 500 * time.Millisecond,
		RMDVersion:  1,
		Logger:      slog.Default(),
	}
}

// Validate accumulates every configuration error rather than returning on
// the first one, matching the teacher's ValidationError pattern in
// internal/config/validate.go.
func (c ChangeConsumerConfig) Validate() error {
	var errs []string
	if c.StoreName == "" {
		errs = append(errs, "StoreName must not be empty")
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, "PollTimeout must be positive")
	}
	if c.RMDVersion < 0 {
		errs = append(errs, "RMDVersion must not be negative")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
}

func (c ChangeConsumerConfig) withDefaults() ChangeConsumerConfig {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 500 * time.Millisecond
	}
	if c.ValueDecoder == nil {
		c.ValueDecoder = GenericJSONDecoder()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
