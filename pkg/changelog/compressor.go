package changelog

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compressor decompresses bytes read off a version's topics. Decompress
// must be safe for concurrent use; the registry hands out the same
// instance to every partition of a version.
type Compressor interface {
	Decompress(data []byte) ([]byte, error)
}

type noopCompressor struct{}

func (noopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdDictCompressor struct {
	decoder *zstd.Decoder
}

func newZstdDictCompressor(dictionary []byte) (*zstdDictCompressor, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDicts(dictionary))
	if err != nil {
		return nil, fmt.Errorf("zstd: building dictionary decoder: %w", err)
	}
	return &zstdDictCompressor{decoder: dec}, nil
}

func (z *zstdDictCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// DictionaryReader fetches a version's ZSTD dictionary by scanning its
// version topic for the StartOfPush control message that announces it.
// Concrete PubSubConsumer implementations provide this as a narrow,
// short-lived collaborator (see the Open Question decision in DESIGN.md)
// rather than having CompressorRegistry reuse the main poll assignment.
type DictionaryReader interface {
	ReadDictionary(ctx context.Context, versionTopic string) ([]byte, error)
}

// CompressorRegistry caches one Compressor per version (the strategy
// passed on later calls for a cached version is not consulted) and
// lazily resolves ZSTD_WITH_DICT dictionaries on first use, grounded on
// the original's getVersionCompressor caching the NONE/GZIP singletons and
// fetching ZSTD dictionaries on demand via DictionaryUtils.
type CompressorRegistry struct {
	mu          sync.Mutex
	byVersion   map[int]Compressor
	dictReader  DictionaryReader
	noop        Compressor
	gzip        Compressor
}

// NewCompressorRegistry returns a registry that uses dictReader to fetch
// ZSTD dictionaries on demand. dictReader may be nil if no version in use
// is ever ZSTD_WITH_DICT compressed.
func NewCompressorRegistry(dictReader DictionaryReader) *CompressorRegistry {
	return &CompressorRegistry{
		byVersion:  make(map[int]Compressor),
		dictReader: dictReader,
		noop:       noopCompressor{},
		gzip:       gzipCompressor{},
	}
}

// ForVersion returns the Compressor for a version topic's records, given
// the strategy announced by that version's StartOfPush control message and
// the dictionary bytes if it was carried inline (StartOfPushPayload).
func (r *CompressorRegistry) ForVersion(ctx context.Context, versionTopic string, version int, strategy CompressionStrategy, inlineDictionary []byte) (Compressor, error) {
	r.mu.Lock()
	if c, ok := r.byVersion[version]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	var (
		c   Compressor
		err error
	)
	switch strategy {
	case CompressionNone:
		c = r.noop
	case CompressionGzip:
		c = r.gzip
	case CompressionZstdWithDict:
		dict := inlineDictionary
		if len(dict) == 0 {
			if r.dictReader == nil {
				return nil, fmt.Errorf("%w: version %d needs a dictionary reader", ErrDictionaryUnavailable, version)
			}
			dict, err = r.dictReader.ReadDictionary(ctx, versionTopic)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDictionaryUnavailable, err)
			}
		}
		c, err = newZstdDictCompressor(dict)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: strategy %d", ErrUnsupportedCompression, strategy)
	}

	r.mu.Lock()
	r.byVersion[version] = c
	r.mu.Unlock()
	return c, nil
}

// ForChangeCaptureTopic returns the Compressor for a change-capture
// topic's records. Per the Open Question resolution in DESIGN.md, this
// consults the same per-version cache as ForVersion rather than hardcoding
// a no-op, so a future producer that starts compressing change-capture
// records needs no interface change here.
func (r *CompressorRegistry) ForChangeCaptureTopic(ctx context.Context, versionTopic string, version int, strategy CompressionStrategy, inlineDictionary []byte) (Compressor, error) {
	return r.ForVersion(ctx, versionTopic, version, strategy, inlineDictionary)
}

// Forget drops a version's cached compressor, used when a version is
// retired so its dictionary memory can be released.
func (r *CompressorRegistry) Forget(version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byVersion, version)
}
