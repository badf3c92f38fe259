package changelog

import (
	"fmt"
	"sync"
)

// chunkKey identifies one in-progress chunked record's fragment buffer:
// the partition it arrived on and the chunked key prefix shared by every
// fragment and the closing manifest.
type chunkKey struct {
	partition int32
	prefix    string
}

type chunkBuffer struct {
	fragments map[int]([]byte)
}

// ChunkAssembler buffers CHUNK fragments per (partition, key) until the
// closing CHUNK_MANIFEST declares the record complete, then concatenates
// them in chunk-index order. A record that never receives all of its
// fragments before the assembler is cleared (on a version swap or end of
// push) is
// silently dropped, matching the original's behavior of discarding
// in-flight chunk state on topic switch.
type ChunkAssembler struct {
	mu      sync.Mutex
	buffers map[chunkKey]*chunkBuffer
}

// NewChunkAssembler returns an empty assembler.
func NewChunkAssembler() *ChunkAssembler {
	return &ChunkAssembler{buffers: make(map[chunkKey]*chunkBuffer)}
}

// BufferChunk records one fragment of a chunked record. Fragments may
// arrive out of order within a manifest's declared chunk count.
func (a *ChunkAssembler) BufferChunk(partition int32, chunk ChunkPayload) {
	key := chunkKey{partition: partition, prefix: string(chunk.ChunkedKeyPrefix)}
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[key]
	if !ok {
		buf = &chunkBuffer{fragments: make(map[int][]byte)}
		a.buffers[key] = buf
	}
	buf.fragments[chunk.ChunkIndex] = chunk.ChunkData
}

// Assemble reassembles the buffered fragments for (partition, keyPrefix)
// against a closing CHUNK_MANIFEST, returning the concatenated bytes in
// chunk-index order and clearing that record's buffer. Returns
// ErrChunkManifestMismatch if the manifest's declared chunk count does not
// match what has been buffered.
func (a *ChunkAssembler) Assemble(partition int32, keyPrefix []byte, manifest ChunkManifestPayload) ([]byte, error) {
	key := chunkKey{partition: partition, prefix: string(keyPrefix)}
	a.mu.Lock()
	buf, ok := a.buffers[key]
	if ok {
		delete(a.buffers, key)
	}
	a.mu.Unlock()

	if !ok || len(buf.fragments) != manifest.ChunkCount {
		got := 0
		if ok {
			got = len(buf.fragments)
		}
		return nil, fmt.Errorf("%w: manifest declares %d chunks, buffered %d", ErrChunkManifestMismatch, manifest.ChunkCount, got)
	}

	var out []byte
	for i := 0; i < manifest.ChunkCount; i++ {
		frag, ok := buf.fragments[i]
		if !ok {
			return nil, fmt.Errorf("%w: missing chunk index %d", ErrChunkManifestMismatch, i)
		}
		out = append(out, frag...)
	}
	return out, nil
}

// Clear drops all buffered fragments for a partition, used when its topic
// is switched by a version swap or an end of push.
func (a *ChunkAssembler) Clear(partition int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.buffers {
		if key.partition == partition {
			delete(a.buffers, key)
		}
	}
}
