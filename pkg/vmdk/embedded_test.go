package vmdk

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEmbeddedDescriptor(t *testing.T) {
	descText := []byte("version=1\nCID=1\ncreateType=\"monolithicSparse\"\nRW 256 SPARSE \"s.vmdk\"\n")

	const descSectors = 2
	buf := make([]byte, descSectors*SectorSize)
	copy(buf, descText)

	image := append(make([]byte, 10*SectorSize), buf...)

	pool := newMemPool()
	pool.add(0, image)

	hdr := &SparseHeader{
		DescriptorOffsetSectors: 10,
		DescriptorSizeSectors:   descSectors,
	}

	d, err := ReadEmbeddedDescriptor(context.Background(), pool, 0, hdr)
	require.NoError(t, err)
	assert.EqualValues(t, 1, d.Version)
	require.Len(t, d.Extents, 1)
	assert.Equal(t, "s.vmdk", d.Extents[0].Filename)
}

func TestReadEmbeddedDescriptorRejectsNoDescriptor(t *testing.T) {
	pool := newMemPool()
	pool.add(0, bytes.Repeat([]byte{0}, 512))

	_, err := ReadEmbeddedDescriptor(context.Background(), pool, 0, &SparseHeader{})
	assert.Error(t, err)
}
