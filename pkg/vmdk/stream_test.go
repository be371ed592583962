package vmdk

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(buf *bytes.Buffer, value uint64, size, typ uint32) {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], value)
	binary.LittleEndian.PutUint32(hdr[8:12], size)
	binary.LittleEndian.PutUint32(hdr[12:16], typ)
	buf.Write(hdr[:])
}

func padToSector(buf *bytes.Buffer) {
	if rem := buf.Len() % SectorSize; rem != 0 {
		buf.Write(make([]byte, SectorSize-rem))
	}
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	out := &bytes.Buffer{}
	w, err := flate.NewWriter(out, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

func buildMarkerStream(t *testing.T, grainSizeBytes uint64, grainData []byte) []byte {
	t.Helper()
	sectorsPerGrain := grainSizeBytes / SectorSize
	compressed := deflateBytes(t, grainData)

	buf := &bytes.Buffer{}
	writeMarker(buf, 0*sectorsPerGrain, uint32(len(compressed)), markerTypeData)
	buf.Write(compressed)
	padToSector(buf)

	writeMarker(buf, 0, 0, markerTypeEOS)
	padToSector(buf)

	return buf.Bytes()
}

func TestScanMarkerStreamAndDecodeGrain(t *testing.T) {
	grainSizeBytes := uint64(65536)
	grainData := bytes.Repeat([]byte{0xAA}, int(grainSizeBytes))

	data := buildMarkerStream(t, grainSizeBytes, grainData)
	pool := newMemPool()
	pool.add(0, data)

	idx, footer, err := scanMarkerStream(context.Background(), pool, 0, 0, grainSizeBytes, 0)
	require.NoError(t, err)
	assert.Nil(t, footer)
	require.Contains(t, idx.grainMarkerOffset, int64(0))

	sectorsPerGrain := grainSizeBytes / SectorSize
	out, err := decodeCompressedGrain(context.Background(), pool, 0, idx.grainMarkerOffset[0], 0, sectorsPerGrain, grainSizeBytes, 0)
	require.NoError(t, err)
	assert.Equal(t, grainData, out)
}

func TestScanMarkerStreamWithFooter(t *testing.T) {
	grainSizeBytes := uint64(65536)
	grainData := bytes.Repeat([]byte{0x11}, int(grainSizeBytes))
	compressed := deflateBytes(t, grainData)
	sectorsPerGrain := grainSizeBytes / SectorSize

	buf := &bytes.Buffer{}
	writeMarker(buf, 0*sectorsPerGrain, uint32(len(compressed)), markerTypeData)
	buf.Write(compressed)
	padToSector(buf)

	// The footer and EOS markers each occupy exactly one sector (a 16-byte
	// header padded up); the replacement header follows immediately after.
	footerHeaderSector := uint64(buf.Len())/SectorSize + 2
	writeMarker(buf, footerHeaderSector, 0, markerTypeFooter)
	padToSector(buf)

	writeMarker(buf, 0, 0, markerTypeEOS)
	padToSector(buf)

	require.EqualValues(t, footerHeaderSector*SectorSize, buf.Len())
	buf.Write(buildKDMVHeader(t, nil))

	pool := newMemPool()
	pool.add(0, buf.Bytes())

	idx, footer, err := scanMarkerStream(context.Background(), pool, 0, 0, grainSizeBytes, 0)
	require.NoError(t, err)
	require.NotNil(t, footer)
	assert.Contains(t, idx.grainMarkerOffset, int64(0))
}

func TestDecodeCompressedGrainRejectsWrongGrain(t *testing.T) {
	grainSizeBytes := uint64(65536)
	grainData := bytes.Repeat([]byte{0xAA}, int(grainSizeBytes))
	data := buildMarkerStream(t, grainSizeBytes, grainData)

	pool := newMemPool()
	pool.add(0, data)

	sectorsPerGrain := grainSizeBytes / SectorSize
	_, err := decodeCompressedGrain(context.Background(), pool, 0, 0, 1, sectorsPerGrain, grainSizeBytes, 0)
	assert.Error(t, err)
	var target *CorruptCompressedGrainError
	assert.ErrorAs(t, err, &target)
}

func TestDecodeCompressedGrainRejectsNonDataMarker(t *testing.T) {
	buf := &bytes.Buffer{}
	writeMarker(buf, 0, 0, markerTypeEOS)
	pool := newMemPool()
	pool.add(0, buf.Bytes())

	_, err := decodeCompressedGrain(context.Background(), pool, 0, 0, 0, 128, 65536, 0)
	assert.Error(t, err)
}
