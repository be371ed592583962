// Package vmdk implements read-only access to VMware Virtual Disk (VMDK)
// images: parsing textual descriptors, decoding sparse and COWD extent
// headers, resolving grain directories and tables, inflating
// stream-optimized compressed grains, and composing parent/child delta
// chains into a single addressable disk.
//
// The package never opens files itself. Callers supply backing bytes
// through a BackingPool implementation and obtain a Handle via Open,
// which exposes the disk as a flat byte range through ReadAt (and the
// io.Reader/io.Seeker convenience methods Read/Seek/Tell).
package vmdk
