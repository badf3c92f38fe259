package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/abd-ulbasit/loomdb/pkg/changelog"
)

// DictionaryReader fetches a version topic's ZSTD dictionary by opening a
// short-lived Consumer against partition 0 from the start of the topic
// and scanning for its START_OF_PUSH control message, matching the
// original's DictionaryUtils.readDictionaryFromKafka opening its own
// consumer rather than borrowing the caller's main poll assignment (see
// DESIGN.md's Open Question 3).
type DictionaryReader struct {
	cfg Config
}

// NewDictionaryReader returns a DictionaryReader dialing the same brokers
// as cfg.
func NewDictionaryReader(cfg Config) *DictionaryReader {
	return &DictionaryReader{cfg: cfg}
}

// ReadDictionary scans versionTopic's partition 0 from the earliest offset
// for a START_OF_PUSH control message and returns its dictionary bytes.
func (r *DictionaryReader) ReadDictionary(ctx context.Context, versionTopic string) ([]byte, error) {
	c, err := NewConsumer(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: dictionary reader: %w", err)
	}
	defer c.Close()

	tp := changelog.TopicPartition{Topic: versionTopic, Partition: 0}
	if err := c.Subscribe(ctx, tp, changelog.EarliestOffset); err != nil {
		return nil, fmt.Errorf("kafka: dictionary reader: subscribing: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		envelopes, err := c.Poll(ctx, time.Second)
		if err != nil {
			return nil, fmt.Errorf("kafka: dictionary reader: polling: %w", err)
		}
		for _, env := range envelopes {
			if env.Control == changelog.ControlMessageStartOfPush && env.StartOfPush != nil {
				return env.StartOfPush.CompressionDictionary, nil
			}
		}
	}
	return nil, fmt.Errorf("kafka: dictionary reader: timed out waiting for START_OF_PUSH on %s", versionTopic)
}
