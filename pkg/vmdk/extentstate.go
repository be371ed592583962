package vmdk

// extentState is the per-extent runtime state a Handle builds at mount
// time: the extent's static descriptor plus whatever sparse-format
// geometry it needed loaded to serve reads (spec §3 "Lifecycle").
type extentState struct {
	desc *ExtentDescriptor

	header *SparseHeader // nil for FLAT/VMFS_FLAT/ZERO extents

	// grainDirectory is loaded lazily on first access for ordinary sparse
	// extents (spec §4.4) and is never evicted once loaded - only the
	// per-grain-table and per-grain caches (C5, C6) are bounded.
	grainDirectory []uint32

	// stream is populated eagerly at mount time for stream-optimized
	// extents (header.HasMarkers), per the option (a) strategy spec §9
	// calls out and DESIGN.md selects.
	stream *streamIndex
}

func (es *extentState) isSparse() bool {
	switch es.desc.Type {
	case ExtentSparse, ExtentVMFSSparse:
		return true
	default:
		return false
	}
}

func (es *extentState) isFlatLike() bool {
	switch es.desc.Type {
	case ExtentFlat, ExtentVMFSFlat, ExtentVMFSRaw, ExtentVMFSRDM:
		return true
	default:
		return false
	}
}

func (es *extentState) isStreamOptimized() bool {
	return es.header != nil && es.header.HasMarkers
}
