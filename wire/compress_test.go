package wire

import (
	"bytes"
	"testing"
)

func TestCompressDecompressValueRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)

	compressed, err := CompressValue(raw)
	if err != nil {
		t.Fatalf("CompressValue: %v", err)
	}
	if len(compressed) >= len(raw) {
		t.Fatalf("compressed size %d not smaller than raw size %d for repetitive input", len(compressed), len(raw))
	}

	decompressed, err := DecompressValue(compressed)
	if err != nil {
		t.Fatalf("DecompressValue: %v", err)
	}
	if !bytes.Equal(decompressed, raw) {
		t.Fatal("decompressed bytes do not match original")
	}
}
