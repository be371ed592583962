package vmdk

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Stream-optimized marker types (spec §4.7).
const (
	markerTypeData           uint32 = 0
	markerTypeGrainTable     uint32 = 1
	markerTypeGrainDirectory uint32 = 2
	markerTypeFooter         uint32 = 3
	markerTypeEOS            uint32 = 4
)

const markerHeaderSize = 16

// marker is the 16-byte typed record found at sector boundaries in a
// stream-optimized extent's marker stream (spec §4.7).
type marker struct {
	Value uint64
	Size  uint32
	Type  uint32
}

func decodeMarker(buf []byte) marker {
	return marker{
		Value: binary.LittleEndian.Uint64(buf[0:8]),
		Size:  binary.LittleEndian.Uint32(buf[8:12]),
		Type:  binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// streamIndex is the in-memory index this decoder materializes for a
// stream-optimized extent by scanning its marker stream once at mount time
// (spec §9 "Compressed-grain marker stream", option (a), chosen per
// DESIGN.md). grainMarkerOffset maps a grain's logical index within the
// extent to the byte offset of its DATA marker.
type streamIndex struct {
	grainMarkerOffset map[int64]uint64
}

// maxStreamMarkers bounds the marker scan against a truncated or malformed
// stream that never emits an EOS marker.
const maxStreamMarkers = 1 << 24

// scanMarkerStream walks a stream-optimized extent's marker stream starting
// at a sector-aligned offset, recording the location of every DATA marker.
// It stops at the first EOS marker. If a FOOTER marker is found, the header
// it points to is decoded and returned so the caller can supersede the
// extent's leading header (spec §4.7 marker type 3).
func scanMarkerStream(ctx context.Context, pool BackingPool, backingIndex uint32, startOffset uint64, grainSizeBytes uint64, extentIndex int) (*streamIndex, *SparseHeader, error) {
	sectorsPerGrain := grainSizeBytes / SectorSize
	idx := &streamIndex{grainMarkerOffset: map[int64]uint64{}}

	var footerHeader *SparseHeader
	offset := startOffset

	for i := 0; i < maxStreamMarkers; i++ {
		buf := make([]byte, markerHeaderSize)
		if err := readFullAt(ctx, pool, backingIndex, offset, buf); err != nil {
			return nil, nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: -1, Phase: "marker scan: " + err.Error()}
		}
		m := decodeMarker(buf)

		switch m.Type {
		case markerTypeData:
			grainIndex := int64(m.Value) / int64(sectorsPerGrain)
			idx.grainMarkerOffset[grainIndex] = offset
			offset += alignUpSector(markerHeaderSize + uint64(m.Size))
		case markerTypeGrainTable, markerTypeGrainDirectory:
			offset += alignUpSector(markerHeaderSize + uint64(m.Size))
		case markerTypeFooter:
			hdrBuf := make([]byte, SectorSize)
			footerOffset := m.Value * SectorSize
			if err := readFullAt(ctx, pool, backingIndex, footerOffset, hdrBuf); err != nil {
				return nil, nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: -1, Phase: "footer header read: " + err.Error()}
			}
			h, err := decodeSparseHeader(hdrBuf, extentIndex, 0)
			if err != nil {
				return nil, nil, err
			}
			footerHeader = h
			offset += alignUpSector(markerHeaderSize + uint64(m.Size))
		case markerTypeEOS:
			return idx, footerHeader, nil
		default:
			return nil, nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: -1, Phase: fmt.Sprintf("unrecognized marker type %d at offset %d", m.Type, offset)}
		}
	}

	return nil, nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: -1, Phase: "marker stream never reached EOS"}
}

func alignUpSector(n uint64) uint64 {
	return (n + SectorSize - 1) / SectorSize * SectorSize
}

// decodeCompressedGrain reads and inflates the grain whose DATA marker
// starts at markerOffset, verifying the marker's declared grain and the
// inflated length (spec §4.7 decoder contract).
func decodeCompressedGrain(ctx context.Context, pool BackingPool, backingIndex uint32, markerOffset uint64, grain int64, sectorsPerGrain uint64, grainSizeBytes uint64, extentIndex int) ([]byte, error) {
	hdrBuf := make([]byte, markerHeaderSize)
	if err := readFullAt(ctx, pool, backingIndex, markerOffset, hdrBuf); err != nil {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "marker read: " + err.Error()}
	}
	m := decodeMarker(hdrBuf)

	if m.Type != markerTypeData {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "marker is not type DATA"}
	}
	if int64(m.Value)/int64(sectorsPerGrain) != grain {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "marker does not map to requested grain"}
	}

	payload := make([]byte, m.Size)
	if err := readFullAt(ctx, pool, backingIndex, markerOffset+markerHeaderSize, payload); err != nil {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "payload read: " + err.Error()}
	}

	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()

	out := make([]byte, grainSizeBytes)
	n, err := io.ReadFull(fr, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "inflate: " + err.Error()}
	}
	if uint64(n) != grainSizeBytes {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "decompressed length mismatch"}
	}
	// Confirm there is no trailing data beyond the expected grain size.
	var extra [1]byte
	if k, _ := fr.Read(extra[:]); k != 0 {
		return nil, &CorruptCompressedGrainError{Extent: extentIndex, Grain: grain, Phase: "decompressed length exceeds grain size"}
	}

	return out, nil
}
