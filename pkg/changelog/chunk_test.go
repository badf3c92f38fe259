package changelog

import "testing"

func TestChunkAssemblerReassemblesInOrder(t *testing.T) {
	a := NewChunkAssembler()
	prefix := []byte("key-1")

	a.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 1, ChunkData: []byte("world")})
	a.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("hello ")})

	out, err := a.Assemble(0, prefix, ChunkManifestPayload{ChunkCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestChunkAssemblerMismatchedCount(t *testing.T) {
	a := NewChunkAssembler()
	prefix := []byte("key-1")
	a.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("only-one")})

	_, err := a.Assemble(0, prefix, ChunkManifestPayload{ChunkCount: 2})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestChunkAssemblerClearDropsPartition(t *testing.T) {
	a := NewChunkAssembler()
	prefix := []byte("key-1")
	a.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("x")})
	a.Clear(0)

	_, err := a.Assemble(0, prefix, ChunkManifestPayload{ChunkCount: 1})
	if err == nil {
		t.Fatal("expected assemble after clear to fail")
	}
}

func TestChunkAssemblerIsolatesPartitions(t *testing.T) {
	a := NewChunkAssembler()
	prefix := []byte("key-shared")
	a.BufferChunk(0, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("p0")})
	a.BufferChunk(1, ChunkPayload{ChunkedKeyPrefix: prefix, ChunkIndex: 0, ChunkData: []byte("p1")})

	out0, err := a.Assemble(0, prefix, ChunkManifestPayload{ChunkCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(out0) != "p0" {
		t.Fatalf("got %q", out0)
	}

	out1, err := a.Assemble(1, prefix, ChunkManifestPayload{ChunkCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(out1) != "p1" {
		t.Fatalf("got %q", out1)
	}
}
