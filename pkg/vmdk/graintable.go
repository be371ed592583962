package vmdk

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GrainTable is a fixed-size vector of grain sector offsets; a zero entry
// indicates the grain is sparse (spec §3 "Grain table", component C4).
type GrainTable []uint32

// loadGrainDirectory reads a sparse extent's grain directory into memory,
// failing over from the primary to the secondary location if the primary
// is corrupt or unreadable and a valid secondary is available (spec §4.3's
// primary/secondary failover, §4.4).
func loadGrainDirectory(ctx context.Context, pool BackingPool, backingIndex uint32, h *SparseHeader, extentIndex int) ([]uint32, error) {
	backingSize, err := pool.Size(backingIndex)
	if err != nil {
		return nil, &BackingIOError{Index: backingIndex, Cause: err}
	}

	length := h.GrainDirectoryLength()

	gd, primaryErr := readGrainDirectoryAt(ctx, pool, backingIndex, h.PrimaryGrainDirectorySector, length, backingSize)
	if primaryErr == nil {
		return gd, nil
	}

	if h.SecondaryGrainDirectorySector != 0 {
		logrus.WithField("extent", extentIndex).WithError(primaryErr).Warn("primary grain directory invalid, trying secondary")
		gd, secondaryErr := readGrainDirectoryAt(ctx, pool, backingIndex, h.SecondaryGrainDirectorySector, length, backingSize)
		if secondaryErr == nil {
			return gd, nil
		}
		return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("primary grain directory corrupt (%s) and secondary also invalid (%s)", primaryErr, secondaryErr)}
	}

	return nil, &SparseHeaderError{Extent: extentIndex, Reason: fmt.Sprintf("primary grain directory corrupt and no secondary present: %s", primaryErr)}
}

func readGrainDirectoryAt(ctx context.Context, pool BackingPool, backingIndex uint32, sector uint64, length int, backingSize uint64) ([]uint32, error) {
	if length == 0 {
		return nil, fmt.Errorf("grain directory has zero length")
	}

	byteLen := length * 4
	offset := sector * SectorSize
	if offset+uint64(byteLen) > backingSize {
		return nil, fmt.Errorf("grain directory extends past end of backing file")
	}

	buf := make([]byte, byteLen)
	if err := readFullAt(ctx, pool, backingIndex, offset, buf); err != nil {
		return nil, err
	}

	gd := make([]uint32, length)
	for i := range gd {
		gd[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}

	// A directory is corrupt if any nonzero entry's sector offset falls
	// outside the backing file.
	for i, entry := range gd {
		if entry == 0 {
			continue
		}
		if uint64(entry)*SectorSize >= backingSize {
			return nil, fmt.Errorf("grain directory entry %d sector %d lies outside backing file", i, entry)
		}
	}

	return gd, nil
}

// loadGrainTable reads one grain table named by a grain-directory entry
// (spec §4.4). A zero gdEntry yields a synthetic all-sparse table without
// touching the backing pool.
func loadGrainTable(ctx context.Context, pool BackingPool, backingIndex uint32, h *SparseHeader, extentIndex, gdIndex int, gdEntry uint32) (GrainTable, error) {
	if gdEntry == 0 {
		return make(GrainTable, h.NumGTEsPerGT), nil
	}

	backingSize, err := pool.Size(backingIndex)
	if err != nil {
		return nil, &BackingIOError{Index: backingIndex, Cause: err}
	}

	offset := uint64(gdEntry) * SectorSize
	byteLen := int(h.NumGTEsPerGT) * 4
	if offset+uint64(byteLen) > backingSize {
		return nil, &CorruptGrainTableError{Extent: extentIndex, GDIndex: gdIndex, Entry: gdEntry, Reason: "grain table extends past end of backing file"}
	}

	buf := make([]byte, byteLen)
	if err := readFullAt(ctx, pool, backingIndex, offset, buf); err != nil {
		return nil, err
	}

	gt := make(GrainTable, h.NumGTEsPerGT)
	for i := range gt {
		gt[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}

	for _, entry := range gt {
		if entry == 0 {
			continue
		}
		if uint64(entry)*SectorSize >= backingSize {
			return nil, &CorruptGrainTableError{Extent: extentIndex, GDIndex: gdIndex, Entry: entry, Reason: "grain sector lies outside backing file"}
		}
	}

	return gt, nil
}

// readFullAt reads exactly len(buf) bytes at offset, retrying on internal
// short reads as BackingPool's contract requires, and wraps failures as
// BackingIOError.
func readFullAt(ctx context.Context, pool BackingPool, index uint32, offset uint64, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := pool.ReadAt(ctx, index, offset+uint64(read), buf[read:])
		read += n
		if err != nil {
			return &BackingIOError{Index: index, Offset: offset + uint64(read), Cause: err}
		}
		if n == 0 {
			return &BackingIOError{Index: index, Offset: offset + uint64(read), Cause: fmt.Errorf("short read with no progress")}
		}
	}
	return nil
}
