package vmdk

import "sort"

// ExtentType identifies how an extent's bytes are physically stored
// (spec §3 "Extent descriptor").
type ExtentType int

// Recognized extent types.
const (
	ExtentFlat ExtentType = iota
	ExtentSparse
	ExtentVMFSFlat
	ExtentVMFSSparse
	ExtentVMFSRaw
	ExtentVMFSRDM
	ExtentZero
)

func (t ExtentType) String() string {
	switch t {
	case ExtentFlat:
		return "FLAT"
	case ExtentSparse:
		return "SPARSE"
	case ExtentVMFSFlat:
		return "VMFS"
	case ExtentVMFSSparse:
		return "VMFSSPARSE"
	case ExtentVMFSRaw:
		return "VMFSRAW"
	case ExtentVMFSRDM:
		return "VMFSRDM"
	case ExtentZero:
		return "ZERO"
	default:
		return "UNKNOWN"
	}
}

// requiresFilename reports whether the extent type must carry a filename.
func (t ExtentType) requiresFilename() bool {
	return t != ExtentZero
}

// AccessMode is the extent-line access token (spec §3, §4.2).
type AccessMode int

// Recognized access modes. Only RDONLY and RW admit reads (spec §4.1).
const (
	NoAccess AccessMode = iota
	ReadOnly
	ReadWrite
)

func (a AccessMode) String() string {
	switch a {
	case NoAccess:
		return "NOACCESS"
	case ReadOnly:
		return "RDONLY"
	case ReadWrite:
		return "RW"
	default:
		return "UNKNOWN"
	}
}

func (a AccessMode) readable() bool {
	return a == ReadOnly || a == ReadWrite
}

// ExtentDescriptor is one line of the descriptor's extent table, plus the
// derived fields computed once at Open (spec §3).
type ExtentDescriptor struct {
	Type               ExtentType
	Access             AccessMode
	Filename           string // empty iff Type == ExtentZero
	OffsetSectors      uint64 // meaningful only for FLAT/VMFS types
	SizeSectors        uint64
	LogicalStartSector uint64 // derived: exclusive prefix sum of SizeSectors
	BackingIndex       uint32 // assigned by the caller's BackingPool/Resolver

	index int // position within Descriptor.Extents, set at mount time
}

// sizeBytes returns the extent's logical length in bytes.
func (e *ExtentDescriptor) sizeBytes() uint64 {
	return e.SizeSectors * SectorSize
}

// logicalStartBytes returns the extent's logical start offset in bytes.
func (e *ExtentDescriptor) logicalStartBytes() uint64 {
	return e.LogicalStartSector * SectorSize
}

// extentTable implements component C8: it concatenates extents into a
// single logical address space and maps a logical offset to the extent
// that covers it. Its extents and start offsets are built once at Open and
// never mutated afterward; only the lastExtent guess changes on lookup.
//
// Lookup uses the two strategies spec §4.8 calls for: a cached "last
// extent" guess checked first (workloads exhibit spatial locality), and a
// binary search over sorted logical start offsets on miss.
type extentTable struct {
	extents []*ExtentDescriptor
	starts  []uint64 // starts[i] == extents[i].LogicalStartSector*SectorSize, sorted ascending

	lastExtent int // index into extents, updated on every successful locate
}

func newExtentTable(extents []*ExtentDescriptor) *extentTable {
	starts := make([]uint64, len(extents))
	for i, e := range extents {
		starts[i] = e.logicalStartBytes()
	}
	return &extentTable{extents: extents, starts: starts}
}

func (t *extentTable) mediaSize() uint64 {
	if len(t.extents) == 0 {
		return 0
	}
	last := t.extents[len(t.extents)-1]
	return last.logicalStartBytes() + last.sizeBytes()
}

// locate returns the extent covering logical byte offset, or nil if offset
// is at or beyond the media size.
func (t *extentTable) locate(offset uint64) *ExtentDescriptor {
	if n := len(t.extents); n > 0 {
		if e := t.extents[t.lastExtent]; offset >= e.logicalStartBytes() && offset < e.logicalStartBytes()+e.sizeBytes() {
			return e
		}
	}

	// Binary search: find the last start <= offset.
	i := sort.Search(len(t.starts), func(i int) bool {
		return t.starts[i] > offset
	})
	if i == 0 {
		return nil
	}
	idx := i - 1
	e := t.extents[idx]
	if offset >= e.logicalStartBytes()+e.sizeBytes() {
		return nil
	}
	t.lastExtent = idx
	return e
}
