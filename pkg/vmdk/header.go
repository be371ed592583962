package vmdk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire magic numbers (spec §6.3). Both are little-endian.
const (
	MagicKDMV uint32 = 0x564d444b
	MagicCOWD uint32 = 0x44574f43

	// SectorSize is the fixed VMDK sector size in bytes.
	SectorSize = 512
)

// CompressionMethod identifies the grain compression algorithm recorded in
// a KDMV sparse header (spec §3, §4.3).
type CompressionMethod uint16

// Recognized compression methods.
const (
	CompressionNone    CompressionMethod = 0
	CompressionDeflate CompressionMethod = 1
)

// sparseFormat distinguishes the two on-disk header layouts this codec
// recognizes (spec §4.3).
type sparseFormat int

const (
	formatKDMV sparseFormat = iota
	formatCOWD
)

// SparseHeader is the decoded, format-independent view of a sparse or
// COWD extent header (spec §3 "Sparse header", component C3). Geometry
// derived from the raw fields lives alongside them.
type SparseHeader struct {
	format sparseFormat

	Version uint32
	Flags   uint32

	CapacitySectors         uint64
	GrainSizeSectors        uint64
	DescriptorOffsetSectors uint64
	DescriptorSizeSectors   uint64
	NumGTEsPerGT            uint32

	SecondaryGrainDirectorySector uint64
	PrimaryGrainDirectorySector   uint64
	OverheadSectors               uint64

	Compression CompressionMethod

	HasValidNewlineTest        bool
	UseSecondaryGrainDirectory bool
	HasGrainCompression        bool
	HasMarkers                 bool
}

// GrainSizeBytes returns the size in bytes of one grain.
func (h *SparseHeader) GrainSizeBytes() uint64 {
	return h.GrainSizeSectors * SectorSize
}

// GrainTableSpanBytes returns how many logical bytes one full grain table
// (NumGTEsPerGT grains) covers.
func (h *SparseHeader) GrainTableSpanBytes() uint64 {
	return h.GrainSizeBytes() * uint64(h.NumGTEsPerGT)
}

// GrainDirectoryLength returns the number of entries in the grain
// directory: ceil(capacity_sectors / (grain_size_sectors * NumGTEsPerGT))
// (spec §3 "Grain directory").
func (h *SparseHeader) GrainDirectoryLength() int {
	span := h.GrainSizeSectors * uint64(h.NumGTEsPerGT)
	if span == 0 {
		return 0
	}
	return int((h.CapacitySectors + span - 1) / span)
}

// rawKDMVHeader is the exact 512-byte on-disk layout of a KDMV sparse
// header, field-for-field identical to the teacher's vmdk.Header (see
// DESIGN.md). All multi-byte fields are little-endian.
type rawKDMVHeader struct {
	MagicNumber             uint32
	Version                 uint32
	Flags                   uint32
	Capacity                uint64
	GrainSize               uint64
	DescriptorOffset        uint64
	DescriptorSize          uint64
	NumGTEsPerGT            uint32
	SecondaryGrainDirOffset uint64
	PrimaryGrainDirOffset   uint64
	OverHead                uint64
	UncleanShutdown         byte
	SingleEndLineChar       byte
	NonEndLineChar          byte
	DoubleEndLineChar1      byte
	DoubleEndLineChar2      byte
	CompressAlgorithm       uint16
	Pad                     [433]uint8
}

// rawCOWDHeader is the on-disk layout of a VMFS-sparse (COWD) header
// (spec §4.3).
type rawCOWDHeader struct {
	MagicNumber     uint32
	Version         uint32
	Flags           uint32
	Capacity        uint32
	GrainSize       uint32
	NextFreeGrain   uint32
	NumGDEntries    uint32
	SavedGeneration uint32
	Name            [60]byte
	Description     [512]byte
	SavedNumGDEs    uint32
}

// cowdGrainTableEntriesPerGDE is fixed for the COWD format (spec §4.3).
const cowdGrainTableEntriesPerGDE = 4096

const (
	flagValidNewlineTest     = 1 << 0
	flagUseSecondaryGrainDir = 1 << 1
	flagHasGrainCompression  = 1 << 16
	flagHasMarkers           = 1 << 17
)

var newlineTest = [4]byte{'\n', ' ', '\r', '\n'}

// decodeSparseHeader parses the 512-byte header of a sparse extent and
// validates it against spec §4.3. extentSizeSectors is the extent's
// declared size, used to validate overhead and directory placement.
func decodeSparseHeader(buf []byte, extentIndex int, extentSizeSectors uint64) (*SparseHeader, error) {
	if len(buf) < 4 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "header too short"}
	}

	magic := binary.LittleEndian.Uint32(buf[:4])
	switch magic {
	case MagicKDMV:
		return decodeKDMVHeader(buf, extentIndex, extentSizeSectors)
	case MagicCOWD:
		return decodeCOWDHeader(buf, extentIndex, extentSizeSectors)
	default:
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("unrecognized magic %#08x", magic)}
	}
}

func decodeKDMVHeader(buf []byte, extentIndex int, extentSizeSectors uint64) (*SparseHeader, error) {
	var raw rawKDMVHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "short read: " + err.Error()}
	}

	if raw.Version < 1 || raw.Version > 3 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("unsupported version %d", raw.Version)}
	}
	if raw.GrainSize == 0 || raw.GrainSize&(raw.GrainSize-1) != 0 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "grain_size_sectors must be a positive power of two"}
	}
	if raw.NumGTEsPerGT == 0 || raw.NumGTEsPerGT > 16384 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "number_of_grain_table_entries out of range"}
	}

	h := &SparseHeader{
		format:                        formatKDMV,
		Version:                       raw.Version,
		Flags:                         raw.Flags,
		CapacitySectors:               raw.Capacity,
		GrainSizeSectors:              raw.GrainSize,
		DescriptorOffsetSectors:       raw.DescriptorOffset,
		DescriptorSizeSectors:         raw.DescriptorSize,
		NumGTEsPerGT:                  raw.NumGTEsPerGT,
		SecondaryGrainDirectorySector: raw.SecondaryGrainDirOffset,
		PrimaryGrainDirectorySector:   raw.PrimaryGrainDirOffset,
		OverheadSectors:               raw.OverHead,
		Compression:                   CompressionMethod(raw.CompressAlgorithm),
		HasValidNewlineTest:           raw.Flags&flagValidNewlineTest != 0,
		UseSecondaryGrainDirectory:    raw.Flags&flagUseSecondaryGrainDir != 0,
		HasGrainCompression:           raw.Flags&flagHasGrainCompression != 0,
		HasMarkers:                    raw.Flags&flagHasMarkers != 0,
	}

	if h.HasValidNewlineTest {
		got := [4]byte{raw.SingleEndLineChar, raw.NonEndLineChar, raw.DoubleEndLineChar1, raw.DoubleEndLineChar2}
		if got != newlineTest {
			return nil, &SparseHeaderError{Extent: extentIndex, Reason: "newline detection test failed (possible ASCII/binary transfer corruption)"}
		}
	}

	if h.Compression != CompressionNone && h.Compression != CompressionDeflate {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("unsupported compression algorithm %d", h.Compression)}
	}

	if extentSizeSectors != 0 {
		if h.PrimaryGrainDirectorySector != 0 && h.PrimaryGrainDirectorySector >= extentSizeSectors {
			return nil, &SparseHeaderError{Extent: extentIndex, Reason: "primary grain directory sector lies outside the extent"}
		}
		if h.OverheadSectors > extentSizeSectors {
			return nil, &SparseHeaderError{Extent: extentIndex, Reason: "overhead_sectors exceeds extent size"}
		}
	}

	return h, nil
}

func decodeCOWDHeader(buf []byte, extentIndex int, extentSizeSectors uint64) (*SparseHeader, error) {
	var raw rawCOWDHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "short read: " + err.Error()}
	}

	if raw.Version > 1 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("unsupported COWD version %d", raw.Version)}
	}
	if raw.GrainSize == 0 {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "grain_size_sectors must be positive"}
	}

	h := &SparseHeader{
		format:                      formatCOWD,
		Version:                     raw.Version,
		Flags:                       raw.Flags,
		CapacitySectors:             uint64(raw.Capacity),
		GrainSizeSectors:            uint64(raw.GrainSize),
		NumGTEsPerGT:                cowdGrainTableEntriesPerGDE,
		PrimaryGrainDirectorySector: cowdHeaderSectors(), // grain directory starts immediately after the header
		OverheadSectors:             0,
		Compression:                 CompressionNone,
	}

	if extentSizeSectors != 0 && h.GrainSizeSectors >= extentSizeSectors {
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: "grain_size_sectors exceeds extent size"}
	}

	return h, nil
}

// cowdHeaderSectors returns the number of sectors occupied by the raw COWD
// header on disk (the grain directory begins immediately afterward).
func cowdHeaderSectors() uint64 {
	size := binary.Size(rawCOWDHeader{})
	return uint64((size + SectorSize - 1) / SectorSize)
}
