package vmdk

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// state is the handle's lifecycle stage (spec §4.10).
type state int

const (
	stateCreated state = iota
	stateOpened
	stateMounted
	stateClosed
)

// Handle is the public, per-disk object orchestrating the descriptor,
// extent table, caches, and parent chain (spec §4.9, component C9).
//
// A Handle must be used from at most one goroutine at a time (spec §5);
// callers needing concurrent reads should open additional handles backed
// by the same (thread-safe) BackingPool.
type Handle struct {
	state state

	descriptor *Descriptor
	pool       BackingPool

	extents []*extentState
	table   *extentTable

	gtCache *grainTableCache
	gCache  *grainCache

	parent                    *Handle
	holeResolvedWithoutParent bool

	aborted bool
	cursor  uint64

	log logrus.FieldLogger
}

// Open parses a descriptor, attaches backing storage, and finalizes the
// disk's geometry, returning a Handle ready for reads (spec §4.9 `open`).
//
// Backing files are resolved either via a WithResolver Option (lazy,
// filename keyed) or, absent one, by assuming pool indices were assigned
// in the order non-ZERO extents appear in the descriptor (eager, spec
// §4.1's "list of file-like objects keyed by extent-descriptor order").
func Open(ctx context.Context, descriptorBytes []byte, pool BackingPool, opts ...Option) (*Handle, error) {
	cfg := defaultHandleConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	descriptor, err := ParseDescriptor(descriptorBytes)
	if err != nil {
		return nil, err
	}

	if err := validateExtentsForDiskType(descriptor); err != nil {
		return nil, err
	}

	h := &Handle{
		state:      stateOpened,
		descriptor: descriptor,
		pool:       pool,
		gtCache:    newGrainTableCache(cfg.grainTableCacheCapacity),
		gCache:     newGrainCache(cfg.grainCacheCapacity),
		log:        cfg.log,
	}

	if err := h.attachBacking(descriptor, pool, cfg.resolver); err != nil {
		return nil, err
	}

	if err := computeLogicalStarts(descriptor.Extents); err != nil {
		return nil, err
	}

	extentStates := make([]*extentState, len(descriptor.Extents))
	for i, ext := range descriptor.Extents {
		ext.index = i
		es := &extentState{desc: ext}

		if ext.Type == ExtentSparse || ext.Type == ExtentVMFSSparse {
			if err := h.mountSparseExtent(ctx, es); err != nil {
				return nil, err
			}
		}

		extentStates[i] = es
	}

	h.extents = extentStates
	h.table = newExtentTable(descriptor.Extents)
	h.state = stateMounted

	return h, nil
}

func (h *Handle) attachBacking(descriptor *Descriptor, pool BackingPool, resolver Resolver) error {
	nextIndex := uint32(0)
	for _, ext := range descriptor.Extents {
		if ext.Type == ExtentZero {
			continue
		}

		if resolver != nil {
			idx, ok := resolver.Resolve(ext.Filename)
			if !ok {
				return &BackingMissingError{Filename: ext.Filename}
			}
			ext.BackingIndex = idx
			continue
		}

		ext.BackingIndex = nextIndex
		nextIndex++
		if !pool.IsOpen(ext.BackingIndex) {
			return &BackingMissingError{Filename: ext.Filename}
		}
	}
	return nil
}

func (h *Handle) mountSparseExtent(ctx context.Context, es *extentState) error {
	ext := es.desc

	// The initial read must be sized for the larger of the two header
	// layouts: a KDMV header is exactly one sector, but a COWD header's
	// Description field alone fills a sector, so the raw struct spans two.
	headerSectors := cowdHeaderSectors()
	if headerSectors < 1 {
		headerSectors = 1
	}
	buf := make([]byte, headerSectors*SectorSize)
	if err := readFullAt(ctx, h.pool, ext.BackingIndex, 0, buf); err != nil {
		return err
	}

	hdr, err := decodeSparseHeader(buf, ext.index, ext.SizeSectors)
	if err != nil {
		return err
	}
	es.header = hdr

	if hdr.HasMarkers {
		h.log.WithField("extent", ext.index).Debug("scanning stream-optimized marker stream")
		startOffset := hdr.OverheadSectors * SectorSize
		idx, footerHeader, err := scanMarkerStream(ctx, h.pool, ext.BackingIndex, startOffset, hdr.GrainSizeBytes(), ext.index)
		if err != nil {
			return err
		}
		es.stream = idx
		if footerHeader != nil {
			h.log.WithField("extent", ext.index).Debug("marker stream footer superseded leading header")
			es.header = footerHeader
		}
	}

	return nil
}

// MediaSize returns the disk's total logical size in bytes.
func (h *Handle) MediaSize() uint64 {
	return h.table.mediaSize()
}

// Descriptor returns the handle's parsed descriptor.
func (h *Handle) Descriptor() *Descriptor {
	return h.descriptor
}

// SignalAbort interrupts the handle's next backing-pool read; the current
// or next ReadAt call returns ErrAborted. Previously cached grains and
// grain tables remain valid (spec §5).
func (h *Handle) SignalAbort() {
	h.aborted = true
}

// Close releases the handle's reference to its backing pool and empties
// its caches (spec §3 "Lifecycle"). The BackingPool itself is owned by
// the caller and is not closed here.
func (h *Handle) Close() error {
	h.state = stateClosed
	h.pool = nil
	h.gtCache = nil
	h.gCache = nil
	h.extents = nil
	return nil
}

// ReadAt reads len(buf) bytes of the logical disk starting at offset,
// returning the number of bytes actually read. A short read (n <
// len(buf)) is only an error condition when it stops short of
// MediaSize(); reads that reach end-of-disk return their partial count
// with a nil error (spec §4.9 "Short reads").
func (h *Handle) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	return h.readAtDepth(ctx, offset, buf, 0)
}

func (h *Handle) readAtDepth(ctx context.Context, offset uint64, buf []byte, depth int) (int, error) {
	if depth > maxParentChainDepth {
		return 0, ErrParentChainTooDeep
	}
	if h.state == stateClosed {
		return 0, ErrClosed
	}
	if h.state != stateMounted {
		return 0, ErrNotMounted
	}

	media := h.MediaSize()
	total := 0

	for len(buf) > 0 && offset < media {
		if h.aborted {
			h.aborted = false
			return total, ErrAborted
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		ext := h.table.locate(offset)
		if ext == nil {
			break
		}
		es := h.extents[ext.index]
		extentRel := offset - ext.logicalStartBytes()
		remaining := ext.sizeBytes() - extentRel
		toCopy := uint64(len(buf))
		if remaining < toCopy {
			toCopy = remaining
		}

		var n int
		var err error

		switch {
		case !ext.Access.readable():
			err = fmt.Errorf("vmdk: extent %d is not readable (access %s)", ext.index, ext.Access)
		case es.isFlatLike():
			n, err = h.pool.ReadAt(ctx, ext.BackingIndex, ext.OffsetSectors*SectorSize+extentRel, buf[:toCopy])
			if err != nil {
				err = &BackingIOError{Index: ext.BackingIndex, Offset: ext.OffsetSectors*SectorSize + extentRel, Cause: err}
			}
		case ext.Type == ExtentZero:
			n, err = h.readHole(ctx, offset, buf[:toCopy], depth)
		case es.isSparse():
			n, err = h.sparseRead(ctx, es, ext, extentRel, offset, buf[:toCopy], depth)
		default:
			err = fmt.Errorf("vmdk: unsupported extent type %s", ext.Type)
		}

		total += n
		offset += uint64(n)
		buf = buf[n:]

		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}

	return total, nil
}

// readHole resolves a ZERO extent or a sparse grain with no allocation:
// delegate to the parent at the same logical offset if one is attached,
// or fill with zeroes (spec §4.9 "Holes and parents").
func (h *Handle) readHole(ctx context.Context, offset uint64, dest []byte, depth int) (int, error) {
	if h.parent != nil {
		n, err := h.parent.readAtDepth(ctx, offset, dest, depth+1)
		if n < len(dest) && err == nil {
			for i := n; i < len(dest); i++ {
				dest[i] = 0
			}
			n = len(dest)
		}
		return n, err
	}

	if !h.holeResolvedWithoutParent {
		h.log.WithField("offset", offset).Debug("resolving hole with no parent attached")
	}
	h.holeResolvedWithoutParent = true
	for i := range dest {
		dest[i] = 0
	}
	return len(dest), nil
}

// sparseRead resolves a single sub-grain read within a sparse extent
// (spec §4.9 "Sparse read"). It copies at most one grain's worth of bytes
// regardless of len(dest); the caller's loop re-enters for the remainder.
func (h *Handle) sparseRead(ctx context.Context, es *extentState, ext *ExtentDescriptor, extentRel, absOffset uint64, dest []byte, depth int) (int, error) {
	hdr := es.header
	grainBytes := hdr.GrainSizeBytes()
	grainIndex := extentRel / grainBytes
	inGrainOff := extentRel % grainBytes
	copyLen := grainBytes - inGrainOff
	if uint64(len(dest)) < copyLen {
		copyLen = uint64(len(dest))
	}

	if es.isStreamOptimized() {
		return h.sparseReadStreamOptimized(ctx, es, ext, grainIndex, inGrainOff, absOffset, dest[:copyLen], depth)
	}
	return h.sparseReadPlain(ctx, es, ext, grainIndex, inGrainOff, absOffset, dest[:copyLen], depth)
}

func (h *Handle) sparseReadPlain(ctx context.Context, es *extentState, ext *ExtentDescriptor, grainIndex, inGrainOff, absOffset uint64, dest []byte, depth int) (int, error) {
	hdr := es.header

	if es.grainDirectory == nil {
		gd, err := loadGrainDirectory(ctx, h.pool, ext.BackingIndex, hdr, ext.index)
		if err != nil {
			return 0, err
		}
		es.grainDirectory = gd
	}

	gdIndex := int(grainIndex / uint64(hdr.NumGTEsPerGT))
	gtSlot := int(grainIndex % uint64(hdr.NumGTEsPerGT))
	if gdIndex >= len(es.grainDirectory) {
		return 0, &CorruptGrainTableError{Extent: ext.index, GDIndex: gdIndex, Reason: "grain directory index out of range"}
	}

	key := grainTableCacheKey{extent: ext.index, gdIndex: gdIndex}
	gt, hit := h.gtCache.lookup(key)
	if !hit {
		var err error
		gt, err = loadGrainTable(ctx, h.pool, ext.BackingIndex, hdr, ext.index, gdIndex, es.grainDirectory[gdIndex])
		if err != nil {
			return 0, err
		}
		h.gtCache.store(key, gt)
	}

	grainSector := gt[gtSlot]
	if grainSector == 0 {
		return h.readHole(ctx, absOffset, dest, depth)
	}

	gKey := grainCacheKey{extent: ext.index, grain: int64(grainIndex)}
	grainBuf, hit := h.gCache.lookup(gKey)
	if !hit {
		grainBuf = make([]byte, hdr.GrainSizeBytes())
		if err := readFullAt(ctx, h.pool, ext.BackingIndex, uint64(grainSector)*SectorSize, grainBuf); err != nil {
			return 0, err
		}
		h.gCache.store(gKey, grainBuf)
	}

	n := copy(dest, grainBuf[inGrainOff:])
	return n, nil
}

func (h *Handle) sparseReadStreamOptimized(ctx context.Context, es *extentState, ext *ExtentDescriptor, grainIndex, inGrainOff, absOffset uint64, dest []byte, depth int) (int, error) {
	hdr := es.header

	markerOffset, ok := es.stream.grainMarkerOffset[int64(grainIndex)]
	if !ok {
		return h.readHole(ctx, absOffset, dest, depth)
	}

	gKey := grainCacheKey{extent: ext.index, grain: int64(grainIndex)}
	grainBuf, hit := h.gCache.lookup(gKey)
	if !hit {
		sectorsPerGrain := hdr.GrainSizeSectors
		var err error
		grainBuf, err = decodeCompressedGrain(ctx, h.pool, ext.BackingIndex, markerOffset, int64(grainIndex), sectorsPerGrain, hdr.GrainSizeBytes(), ext.index)
		if err != nil {
			return 0, err
		}
		h.gCache.store(gKey, grainBuf)
	}

	n := copy(dest, grainBuf[inGrainOff:])
	return n, nil
}

// Seek moves the handle's internal cursor for use with Read, following
// io.Seeker semantics (spec §4.9 `seek`/`tell`).
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(h.cursor) + offset
	case io.SeekEnd:
		abs = int64(h.MediaSize()) + offset
	default:
		return 0, fmt.Errorf("vmdk: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, ErrOutOfRange
	}
	h.cursor = uint64(abs)
	return abs, nil
}

// Tell returns the handle's current cursor position.
func (h *Handle) Tell() uint64 {
	return h.cursor
}

// Read implements io.Reader against the handle's internal cursor.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.ReadAt(context.Background(), h.cursor, p)
	h.cursor += uint64(n)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}
