package vmdk

import (
	"context"
	"fmt"
)

// memPool is an in-memory BackingPool fake used throughout this package's
// tests, grounded on the teacher's vio.Zeroes infinite-zero-reader idea:
// here it's a fixed-size buffer per index rather than an infinite stream.
type memPool struct {
	files map[uint32][]byte
	open  map[uint32]bool
}

func newMemPool() *memPool {
	return &memPool{files: map[uint32][]byte{}, open: map[uint32]bool{}}
}

func (p *memPool) add(index uint32, data []byte) {
	p.files[index] = data
	p.open[index] = true
}

func (p *memPool) ReadAt(ctx context.Context, index uint32, offset uint64, buf []byte) (int, error) {
	data, ok := p.files[index]
	if !ok {
		return 0, fmt.Errorf("memPool: no file at index %d", index)
	}
	if offset >= uint64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[offset:])
	return n, nil
}

func (p *memPool) Size(index uint32) (uint64, error) {
	data, ok := p.files[index]
	if !ok {
		return 0, fmt.Errorf("memPool: no file at index %d", index)
	}
	return uint64(len(data)), nil
}

func (p *memPool) IsOpen(index uint32) bool {
	return p.open[index]
}
