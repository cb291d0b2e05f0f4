package wire

// Opcode identifies a binary-protocol command (spec.md §6). Only the
// subset the connection engine needs to dispatch and privilege-check is
// enumerated here; the full command set is an external (engine-side)
// concern.
type Opcode byte

const (
	OpGet           Opcode = 0x00
	OpSet           Opcode = 0x01
	OpAdd           Opcode = 0x02
	OpReplace       Opcode = 0x03
	OpDelete        Opcode = 0x04
	OpHello         Opcode = 0x1f
	OpSaslListMechs Opcode = 0x20
	OpSaslAuth      Opcode = 0x21
	OpSaslStep      Opcode = 0x22
	OpStat          Opcode = 0x10
	OpSelectBucket  Opcode = 0x89
	OpGetClusterMap Opcode = 0x95
)
