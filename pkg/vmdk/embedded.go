package vmdk

import (
	"bytes"
	"context"
)

// ReadEmbeddedDescriptor reads and parses the textual descriptor embedded in
// a sparse extent's header, at header.DescriptorOffsetSectors for
// header.DescriptorSizeSectors sectors (spec §6.2). Monolithic and
// two-gigabyte-split sparse images carry their descriptor this way instead
// of in a standalone file; callers sniff the backing file, decode its
// sparse header, and call this when DescriptorSizeSectors is non-zero.
//
// The embedded region is NUL-padded to its declared size; trailing NUL
// bytes are trimmed before parsing.
func ReadEmbeddedDescriptor(ctx context.Context, pool BackingPool, index uint32, hdr *SparseHeader) (*Descriptor, error) {
	if hdr.DescriptorSizeSectors == 0 {
		return nil, &MalformedDescriptorError{Line: 0, Reason: "sparse header carries no embedded descriptor"}
	}

	offset := hdr.DescriptorOffsetSectors * SectorSize
	size := hdr.DescriptorSizeSectors * SectorSize
	buf := make([]byte, size)
	if err := readFullAt(ctx, pool, index, offset, buf); err != nil {
		return nil, err
	}

	buf = bytes.TrimRight(buf, "\x00")
	return ParseDescriptor(buf)
}
