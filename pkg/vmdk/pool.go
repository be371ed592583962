package vmdk

import "context"

// BackingPool is the external contract a caller implements to let the core
// read bytes from one of many backing files identified by index (spec §6.1,
// component C1). The core never opens files itself.
//
// Implementations must retry internal short reads: a return of
// n < len(buf) without error is only legal at end-of-file.
type BackingPool interface {
	// ReadAt reads len(buf) bytes starting at offset from the backing file
	// identified by index. It returns the number of bytes read; n < len(buf)
	// is only legal at end-of-file.
	ReadAt(ctx context.Context, index uint32, offset uint64, buf []byte) (n int, err error)

	// Size returns the length in bytes of the backing file identified by index.
	Size(index uint32) (uint64, error)

	// IsOpen reports whether a backing file is currently attached at index.
	IsOpen(index uint32) bool
}

// Resolver lets a caller attach backing files lazily by filename rather
// than pre-populating a BackingPool keyed by extent order (spec §4.1).
// Open calls Resolve once per extent that needs a backing file (i.e. every
// extent except ZERO extents), in descriptor order.
type Resolver interface {
	// Resolve returns the BackingPool index that should be used to read the
	// named backing file. It is called once per extent at Open time.
	Resolve(filename string) (index uint32, ok bool)
}
