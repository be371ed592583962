package vmdk

import "fmt"

// validateExtentsForDiskType checks that a descriptor's extents are
// consistent with its declared createType, catching descriptors that
// mix extent types a given disk type's layout never produces (spec §3,
// SPEC_FULL.md §4 "extent/disk-type compatibility").
func validateExtentsForDiskType(d *Descriptor) error {
	if len(d.Extents) == 0 {
		return &MalformedDescriptorError{Line: 0, Reason: "descriptor declares no extents"}
	}

	sparse := d.DiskType.isSparseFamily()

	for i, e := range d.Extents {
		switch e.Type {
		case ExtentZero:
			continue
		case ExtentSparse, ExtentVMFSSparse:
			if !sparse {
				return &MalformedDescriptorError{Line: 0, Reason: fmt.Sprintf("extent %d: %s extent is incompatible with createType %q", i, e.Type, d.CreateType)}
			}
		case ExtentFlat, ExtentVMFSFlat, ExtentVMFSRaw, ExtentVMFSRDM:
			if sparse {
				return &MalformedDescriptorError{Line: 0, Reason: fmt.Sprintf("extent %d: %s extent is incompatible with createType %q", i, e.Type, d.CreateType)}
			}
		}
	}

	return nil
}
