// Package wire implements the binary memcached wire format: the fixed
// 24-byte request/response header, HELLO feature negotiation, error code
// remapping for clients that haven't negotiated XERROR, and the Item
// framing used to hand mutations to a replication consumer (spec.md §6).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"

	"github.com/NVIDIA/kvcore/kverr"
	"github.com/pkg/errors"
)

const (
	MagicRequest  byte = 0x80
	MagicResponse byte = 0x81

	HeaderLen = 24
)

// ErrShortHeader is returned when fewer than HeaderLen bytes are
// available to parse.
var ErrShortHeader = errors.New("wire: short header")

// ErrBadMagic is returned when the leading byte is neither request nor
// response magic.
var ErrBadMagic = errors.New("wire: bad magic")

// Header is the 24-byte fixed frame prefix common to every request and
// response (spec.md §6).
type Header struct {
	Magic           byte
	Opcode          byte
	KeyLen          uint16
	ExtLen          uint8
	Datatype        uint8
	VbucketOrStatus uint16
	BodyLen         uint32
	Opaque          uint32
	Cas             uint64
}

// ParseHeader decodes the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:           b[0],
		Opcode:          b[1],
		KeyLen:          binary.BigEndian.Uint16(b[2:4]),
		ExtLen:          b[4],
		Datatype:        b[5],
		VbucketOrStatus: binary.BigEndian.Uint16(b[6:8]),
		BodyLen:         binary.BigEndian.Uint32(b[8:12]),
		Opaque:          binary.BigEndian.Uint32(b[12:16]),
		Cas:             binary.BigEndian.Uint64(b[16:24]),
	}
	if h.Magic != MagicRequest && h.Magic != MagicResponse {
		return Header{}, errors.Wrapf(ErrBadMagic, "0x%02x", h.Magic)
	}
	return h, nil
}

// Encode writes h into the first HeaderLen bytes of b, which must be at
// least that long.
func (h Header) Encode(b []byte) {
	_ = b[HeaderLen-1]
	b[0] = h.Magic
	b[1] = h.Opcode
	binary.BigEndian.PutUint16(b[2:4], h.KeyLen)
	b[4] = h.ExtLen
	b[5] = h.Datatype
	binary.BigEndian.PutUint16(b[6:8], h.VbucketOrStatus)
	binary.BigEndian.PutUint32(b[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(b[12:16], h.Opaque)
	binary.BigEndian.PutUint64(b[16:24], h.Cas)
}

// ValueLen is the length of the command value: body minus key and
// extras.
func (h Header) ValueLen() int {
	return int(h.BodyLen) - int(h.KeyLen) - int(h.ExtLen)
}

// Validate checks the structural limits described in spec.md §4.2
// parse_cmd: key/extras lengths consistent with body length, and body
// length within maxBodyLen.
func (h Header) Validate(maxBodyLen uint32) error {
	if int(h.KeyLen)+int(h.ExtLen) > int(h.BodyLen) {
		return kverr.Wrap(kverr.BadParam, nil, "keylen+extlen exceeds bodylen")
	}
	if h.BodyLen > maxBodyLen {
		return kverr.Wrap(kverr.BadParam, nil, "bodylen exceeds configured maximum")
	}
	return nil
}
