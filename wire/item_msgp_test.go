package wire

import (
	"testing"

	"github.com/NVIDIA/kvcore/item"
)

func TestItemFrameRoundTrip(t *testing.T) {
	orig := item.NewMutation(item.Key{NS: item.Collections, Bytes: []byte("doc-1")}, 7, 3, []byte("payload"), DatatypeSnappy)
	orig.BySeqno = 42
	orig.Cas = 99

	encoded, err := EncodeItem(nil, orig)
	if err != nil {
		t.Fatalf("EncodeItem: %v", err)
	}
	decoded, err := DecodeItem(encoded)
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}

	if !decoded.Key.Equal(orig.Key) {
		t.Fatalf("Key = %+v, want %+v", decoded.Key, orig.Key)
	}
	if decoded.PartitionID != orig.PartitionID || decoded.Op != orig.Op ||
		decoded.BySeqno != orig.BySeqno || decoded.Cas != orig.Cas ||
		string(decoded.Value) != string(orig.Value) || decoded.Datatype != orig.Datatype {
		t.Fatalf("DecodeItem() = %+v, want fields matching %+v", decoded, orig)
	}
}

func TestItemFrameRoundTripDeletion(t *testing.T) {
	orig := item.NewDeletion(item.Key{Bytes: []byte("doc-2")}, 3, 1)
	orig.BySeqno = 5

	encoded, err := EncodeItem(nil, orig)
	if err != nil {
		t.Fatalf("EncodeItem: %v", err)
	}
	decoded, err := DecodeItem(encoded)
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if !decoded.Deleted || decoded.Op != item.OpDeletion {
		t.Fatalf("decoded deletion = %+v", decoded)
	}
}
