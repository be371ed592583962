package vmdk

import (
	"bytes"
	"encoding/binary"
)

// Signature identifies how a byte stream was recognized as a VMDK image
// (spec §6.4).
type Signature int

// Recognized signatures.
const (
	SignatureNone Signature = iota
	SignatureSparse
	SignatureCOWD
	SignatureDescriptor
)

const descriptorMagic = "# Disk DescriptorFile"

// DetectFormat reports whether header looks like a VMDK image: a KDMV or
// COWD binary magic in the first 4 bytes, or the descriptor prefix within
// the first 1024 bytes (spec §6.4). header should contain at least the
// first 1024 bytes of the file; shorter input is handled gracefully.
func DetectFormat(header []byte) (Signature, bool) {
	if len(header) >= 4 {
		switch binary.LittleEndian.Uint32(header[:4]) {
		case MagicKDMV:
			return SignatureSparse, true
		case MagicCOWD:
			return SignatureCOWD, true
		}
	}

	limit := len(header)
	if limit > 1024 {
		limit = 1024
	}
	if bytes.Contains(header[:limit], []byte(descriptorMagic)) {
		return SignatureDescriptor, true
	}

	return SignatureNone, false
}
