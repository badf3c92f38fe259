package changelog

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"
)

type fakeDictReader struct {
	dict []byte
	err  error
}

func (f fakeDictReader) ReadDictionary(ctx context.Context, topic string) ([]byte, error) {
	return f.dict, f.err
}

func TestCompressorRegistryNoneIsIdentity(t *testing.T) {
	reg := NewCompressorRegistry(nil)
	c, err := reg.ForVersion(context.Background(), "store_v1", 1, CompressionNone, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decompress([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestCompressorRegistryGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte("payload"))
	w.Close()

	reg := NewCompressorRegistry(nil)
	c, err := reg.ForVersion(context.Background(), "store_v1", 1, CompressionGzip, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decompress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "payload" {
		t.Fatalf("got %q", out)
	}
}

func TestCompressorRegistryCachesPerVersion(t *testing.T) {
	reg := NewCompressorRegistry(nil)
	c1, _ := reg.ForVersion(context.Background(), "store_v1", 1, CompressionNone, nil)
	c2, _ := reg.ForVersion(context.Background(), "store_v1", 1, CompressionGzip, nil)
	if c1 != c2 {
		t.Fatal("expected cached compressor to be returned regardless of strategy argument on second call")
	}
}

func TestCompressorRegistryZstdWithoutDictionaryFails(t *testing.T) {
	reg := NewCompressorRegistry(nil)
	_, err := reg.ForVersion(context.Background(), "store_v2", 2, CompressionZstdWithDict, nil)
	if err == nil {
		t.Fatal("expected error when no dictionary reader and no inline dictionary")
	}
}
