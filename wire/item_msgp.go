package wire

import (
	"bytes"

	"github.com/NVIDIA/kvcore/item"
	"github.com/tinylib/msgp/msgp"
)

// ItemFrame is item.Item viewed through the wire layer's framing: a
// defined type over the same fields so EncodeMsg/DecodeMsg can be
// attached here without item itself depending on msgp (spec.md §6
// "Item framing used to hand mutations to a replication cursor
// consumer"). Conversion to/from *item.Item is a cheap field copy, not
// a deep clone of Value.
type ItemFrame struct {
	NS          item.DocNamespace
	Key         []byte
	PartitionID uint16
	Op          item.Operation
	RevSeqno    uint64
	BySeqno     uint64
	Cas         uint64
	Value       []byte
	Deleted     bool
	Datatype    uint8
}

// FromItem copies it's fields into a fresh ItemFrame.
func FromItem(it *item.Item) ItemFrame {
	return ItemFrame{
		NS:          it.Key.NS,
		Key:         it.Key.Bytes,
		PartitionID: it.PartitionID,
		Op:          it.Op,
		RevSeqno:    it.RevSeqno,
		BySeqno:     it.BySeqno,
		Cas:         it.Cas,
		Value:       it.Value,
		Deleted:     it.Deleted,
		Datatype:    it.Datatype,
	}
}

// ToItem copies f's fields into a fresh *item.Item.
func (f ItemFrame) ToItem() *item.Item {
	return &item.Item{
		Key:         item.Key{NS: f.NS, Bytes: f.Key},
		PartitionID: f.PartitionID,
		Op:          f.Op,
		RevSeqno:    f.RevSeqno,
		BySeqno:     f.BySeqno,
		Cas:         f.Cas,
		Value:       f.Value,
		Deleted:     f.Deleted,
		Datatype:    f.Datatype,
	}
}

// EncodeMsg implements msgp.Encodable, writing one ItemFrame as a
// fixed-size msgpack map so a DCP-style replication consumer on the
// other end of a cursor can decode it without a schema exchange.
func (f *ItemFrame) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteMapHeader(10); err != nil {
		return err
	}
	fields := []struct {
		name  string
		write func() error
	}{
		{"ns", func() error { return en.WriteUint8(uint8(f.NS)) }},
		{"key", func() error { return en.WriteBytes(f.Key) }},
		{"partition", func() error { return en.WriteUint16(f.PartitionID) }},
		{"op", func() error { return en.WriteUint8(uint8(f.Op)) }},
		{"revSeqno", func() error { return en.WriteUint64(f.RevSeqno) }},
		{"bySeqno", func() error { return en.WriteUint64(f.BySeqno) }},
		{"cas", func() error { return en.WriteUint64(f.Cas) }},
		{"value", func() error { return en.WriteBytes(f.Value) }},
		{"deleted", func() error { return en.WriteBool(f.Deleted) }},
		{"datatype", func() error { return en.WriteUint8(f.Datatype) }},
	}
	for _, fl := range fields {
		if err := en.WriteString(fl.name); err != nil {
			return err
		}
		if err := fl.write(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsg implements msgp.Decodable, the inverse of EncodeMsg.
func (f *ItemFrame) DecodeMsg(dc *msgp.Reader) error {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := dc.ReadString()
		if err != nil {
			return err
		}
		switch name {
		case "ns":
			v, err := dc.ReadUint8()
			if err != nil {
				return err
			}
			f.NS = item.DocNamespace(v)
		case "key":
			v, err := dc.ReadBytes(nil)
			if err != nil {
				return err
			}
			f.Key = v
		case "partition":
			v, err := dc.ReadUint16()
			if err != nil {
				return err
			}
			f.PartitionID = v
		case "op":
			v, err := dc.ReadUint8()
			if err != nil {
				return err
			}
			f.Op = item.Operation(v)
		case "revSeqno":
			if f.RevSeqno, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "bySeqno":
			if f.BySeqno, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "cas":
			if f.Cas, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "value":
			v, err := dc.ReadBytes(nil)
			if err != nil {
				return err
			}
			f.Value = v
		case "deleted":
			if f.Deleted, err = dc.ReadBool(); err != nil {
				return err
			}
		case "datatype":
			v, err := dc.ReadUint8()
			if err != nil {
				return err
			}
			f.Datatype = v
		default:
			if err := dc.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeItem frames it as msgpack bytes, appending to dst.
func EncodeItem(dst []byte, it *item.Item) ([]byte, error) {
	f := FromItem(it)
	buf := bytes.NewBuffer(dst)
	w := msgp.NewWriter(buf)
	if err := f.EncodeMsg(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeItem parses one msgpack-framed item from src.
func DecodeItem(src []byte) (*item.Item, error) {
	var f ItemFrame
	r := msgp.NewReader(bytes.NewReader(src))
	if err := f.DecodeMsg(r); err != nil {
		return nil, err
	}
	return f.ToItem(), nil
}
