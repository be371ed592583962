package vmdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptorMonolithicFlat(t *testing.T) {
	text := `# Disk DescriptorFile
version=1
CID=fffffffe
parentCID=ffffffff
createType="monolithicFlat"

# Extent description
RW 2048 FLAT "d.vmdk" 0

# The Disk Data Base
ddb.virtualHWVersion = "4"
ddb.geometry.cylinders = "2"
`
	d, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)

	assert.EqualValues(t, 1, d.Version)
	assert.EqualValues(t, 0xfffffffe, d.ContentIdentifier)
	assert.False(t, d.HasParent)
	assert.Equal(t, "monolithicFlat", d.CreateType)
	assert.Equal(t, MonolithicFlat, d.DiskType)
	require.Len(t, d.Extents, 1)

	ext := d.Extents[0]
	assert.Equal(t, ExtentFlat, ext.Type)
	assert.Equal(t, ReadWrite, ext.Access)
	assert.Equal(t, "d.vmdk", ext.Filename)
	assert.EqualValues(t, 2048, ext.SizeSectors)
	assert.EqualValues(t, 0, ext.OffsetSectors)

	v, ok := d.DiskDatabase("ddb.virtualHWVersion")
	assert.True(t, ok)
	assert.Equal(t, "4", v)

	_, ok = d.DiskDatabase("ddb.nonexistent")
	assert.False(t, ok)
}

func TestParseDescriptorWithParent(t *testing.T) {
	text := `version=1
CID=22222222
parentCID=11111111
parentFileNameHint="base.vmdk"
createType="monolithicSparse"
RW 2048 SPARSE "child.vmdk"
`
	d, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)
	assert.True(t, d.HasParent)
	assert.EqualValues(t, 0x11111111, d.ParentContentIdentifier)
	assert.Equal(t, "base.vmdk", d.ParentFileNameHint)
}

func TestParseDescriptorZeroExtent(t *testing.T) {
	text := `version=1
CID=1
createType="monolithicSparse"
RW 2048 ZERO
`
	d, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)
	require.Len(t, d.Extents, 1)
	assert.Equal(t, ExtentZero, d.Extents[0].Type)
	assert.Equal(t, "", d.Extents[0].Filename)
}

func TestParseDescriptorLogicalStarts(t *testing.T) {
	text := `version=1
CID=1
createType="monolithicFlat"
RW 1000 FLAT "a.vmdk" 0
RW 2000 FLAT "b.vmdk" 0
RW 3000 FLAT "c.vmdk" 0
`
	d, err := ParseDescriptor([]byte(text))
	require.NoError(t, err)
	require.Len(t, d.Extents, 3)
	assert.EqualValues(t, 0, d.Extents[0].LogicalStartSector)
	assert.EqualValues(t, 1000, d.Extents[1].LogicalStartSector)
	assert.EqualValues(t, 3000, d.Extents[2].LogicalStartSector)
}

func TestParseDescriptorRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"missing CID": `version=1
createType="monolithicFlat"
RW 2048 FLAT "d.vmdk" 0
`,
		"missing createType": `version=1
CID=1
RW 2048 FLAT "d.vmdk" 0
`,
		"unknown createType": `version=1
CID=1
createType="bogusType"
RW 2048 FLAT "d.vmdk" 0
`,
		"duplicate header key": `version=1
CID=1
CID=2
createType="monolithicFlat"
RW 2048 FLAT "d.vmdk" 0
`,
		"zero size extent": `version=1
CID=1
createType="monolithicFlat"
RW 0 FLAT "d.vmdk" 0
`,
		"flat extent without filename": `version=1
CID=1
createType="monolithicFlat"
RW 2048 FLAT
`,
		"zero extent with filename": `version=1
CID=1
createType="monolithicSparse"
RW 2048 ZERO "d.vmdk"
`,
		"parentCID without admitting createType": `version=1
CID=1
parentCID=2
createType="monolithicFlat"
RW 2048 FLAT "d.vmdk" 0
`,
		"offset_sectors on a SPARSE line": `version=1
CID=1
createType="monolithicSparse"
RW 2048 SPARSE "d.vmdk" 5
`,
		"garbage line": `version=1
CID=1
createType="monolithicFlat"
this is not a valid line at all
RW 2048 FLAT "d.vmdk" 0
`,
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(text))
			require.Error(t, err)
			var target *MalformedDescriptorError
			assert.ErrorAs(t, err, &target)
		})
	}
}

func TestParseDescriptorRejectsOversizedInput(t *testing.T) {
	big := make([]byte, MaxDescriptorSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := ParseDescriptor(big)
	assert.Error(t, err)
}
