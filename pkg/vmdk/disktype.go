package vmdk

import "fmt"

// DiskType identifies the overall storage layout a descriptor declares via
// its createType key (spec §3).
type DiskType int

// Recognized disk types.
const (
	Flat2GB DiskType = iota
	Sparse2GB
	MonolithicFlat
	MonolithicSparse
	StreamOptimized
	VMFSFlat
	VMFSFlatPreAllocated
	VMFSFlatZeroed
	VMFSRaw
	VMFSRDM
	VMFSRDMP
	VMFSSparse
	VMFSSparseThin
	Custom
	Device
	DevicePartitioned
)

var diskTypeNames = map[DiskType]string{
	Flat2GB:              "FLAT_2GB",
	Sparse2GB:            "SPARSE_2GB",
	MonolithicFlat:       "MONOLITHIC_FLAT",
	MonolithicSparse:     "MONOLITHIC_SPARSE",
	StreamOptimized:      "STREAM_OPTIMIZED",
	VMFSFlat:             "VMFS_FLAT",
	VMFSFlatPreAllocated: "VMFS_FLAT_PRE_ALLOCATED",
	VMFSFlatZeroed:       "VMFS_FLAT_ZEROED",
	VMFSRaw:              "VMFS_RAW",
	VMFSRDM:              "VMFS_RDM",
	VMFSRDMP:             "VMFS_RDMP",
	VMFSSparse:           "VMFS_SPARSE",
	VMFSSparseThin:       "VMFS_SPARSE_THIN",
	Custom:               "CUSTOM",
	Device:               "DEVICE",
	DevicePartitioned:    "DEVICE_PARTITIONED",
}

// String returns the canonical spec name for the disk type.
func (t DiskType) String() string {
	if s, ok := diskTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DiskType(%d)", int(t))
}

// isSparseFamily reports whether a disk type's extents are sparse (as
// opposed to flat-backed).
func (t DiskType) isSparseFamily() bool {
	switch t {
	case Sparse2GB, MonolithicSparse, StreamOptimized, VMFSSparse, VMFSSparseThin:
		return true
	default:
		return false
	}
}
