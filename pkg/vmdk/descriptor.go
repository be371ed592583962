package vmdk

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxDescriptorSize is the largest descriptor this parser accepts (spec §4.2).
const MaxDescriptorSize = 16 * 1024

var (
	headerLineRegex = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*=\s*(?:"([^"]*)"|(\S+))\s*$`)
	extentLineRegex = regexp.MustCompile(`^(NOACCESS|RDONLY|RW)\s+(\d+)\s+(FLAT|VMFSSPARSE|VMFSRAW|VMFSRDM|VMFS|SPARSE|ZERO)(?:\s+"([^"]*)"(?:\s+(\d+))?)?\s*$`)
)

var createTypeToDiskType = map[string]DiskType{
	"monolithicFlat":       MonolithicFlat,
	"monolithicSparse":     MonolithicSparse,
	"twoGbMaxExtentFlat":   Flat2GB,
	"twoGbMaxExtentSparse": Sparse2GB,
	"streamOptimized":      StreamOptimized,
	"vmfs":                 VMFSFlat,
	"vmfsPreallocated":     VMFSFlatPreAllocated,
	"vmfsEagerZeroedThick": VMFSFlatZeroed,
	"vmfsRaw":              VMFSRaw,
	"vmfsRDM":              VMFSRDM,
	"vmfsRDMP":             VMFSRDMP,
	"vmfsSparse":           VMFSSparse,
	"vmfsSparseThin":       VMFSSparseThin,
	"custom":               Custom,
	"fullDevice":           Device,
	"partitionedDevice":    DevicePartitioned,
}

// createTypesAdmittingParents lists createType values whose images may
// legally declare a parentCID (spec §4.2's "admits parents").
var createTypesAdmittingParents = map[string]bool{
	"monolithicSparse":     true,
	"twoGbMaxExtentSparse": true,
	"streamOptimized":      true,
	"vmfsSparse":           true,
	"vmfsSparseThin":       true,
}

// extentTypeFromToken maps the descriptor-line token to an ExtentType.
var extentTypeFromToken = map[string]ExtentType{
	"FLAT":       ExtentFlat,
	"SPARSE":     ExtentSparse,
	"VMFS":       ExtentVMFSFlat,
	"VMFSSPARSE": ExtentVMFSSparse,
	"VMFSRAW":    ExtentVMFSRaw,
	"VMFSRDM":    ExtentVMFSRDM,
	"ZERO":       ExtentZero,
}

var accessFromToken = map[string]AccessMode{
	"NOACCESS": NoAccess,
	"RDONLY":   ReadOnly,
	"RW":       ReadWrite,
}

// Descriptor is the immutable, parsed form of a VMDK textual descriptor
// (spec §3, component C2).
type Descriptor struct {
	Version                 uint32
	ContentIdentifier        uint32
	ParentContentIdentifier  uint32
	HasParent                bool
	CreateType               string
	DiskType                 DiskType
	ParentFileNameHint       string
	Encoding                 string

	Extents []*ExtentDescriptor

	header       map[string]string // unknown header keys, preserved verbatim
	diskDatabase map[string]string
}

// DiskDatabase returns the value of a ddb.* key, and whether it was present.
func (d *Descriptor) DiskDatabase(key string) (string, bool) {
	v, ok := d.diskDatabase[key]
	return v, ok
}

// HeaderValue returns the value of an unrecognized header key that was
// preserved for round-trip purposes.
func (d *Descriptor) HeaderValue(key string) (string, bool) {
	v, ok := d.header[key]
	return v, ok
}

type descriptorParser struct {
	d             *Descriptor
	seenHeaderKey map[string]bool
	sawCID        bool
	sawCreateType bool
}

// ParseDescriptor decodes a textual VMDK descriptor (spec §4.2). data must
// be valid UTF-8 and no larger than MaxDescriptorSize.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if len(data) > MaxDescriptorSize {
		return nil, &MalformedDescriptorError{Line: 0, Reason: fmt.Sprintf("descriptor exceeds %d bytes", MaxDescriptorSize)}
	}

	p := &descriptorParser{
		d: &Descriptor{
			Encoding:     "UTF-8",
			header:       map[string]string{},
			diskDatabase: map[string]string{},
		},
		seenHeaderKey: map[string]bool{},
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), MaxDescriptorSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		raw = strings.TrimRight(raw, "\r")
		text := strings.TrimSpace(raw)

		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if strings.HasPrefix(text, "ddb.") {
			if err := p.parseDiskDatabaseLine(line, text); err != nil {
				return nil, err
			}
			continue
		}

		if m := extentLineRegex.FindStringSubmatch(text); m != nil {
			if err := p.parseExtentLine(line, m); err != nil {
				return nil, err
			}
			continue
		}

		if m := headerLineRegex.FindStringSubmatch(text); m != nil {
			if err := p.parseHeaderLine(line, m); err != nil {
				return nil, err
			}
			continue
		}

		return nil, &MalformedDescriptorError{Line: line, Reason: "unrecognized line: " + text}
	}
	if err := scanner.Err(); err != nil {
		return nil, &MalformedDescriptorError{Line: line, Reason: err.Error()}
	}

	if !p.sawCID {
		return nil, &MalformedDescriptorError{Line: 0, Reason: "missing CID"}
	}
	if !p.sawCreateType {
		return nil, &MalformedDescriptorError{Line: 0, Reason: "missing createType"}
	}
	if p.d.HasParent && !createTypesAdmittingParents[p.d.CreateType] {
		return nil, &MalformedDescriptorError{Line: 0, Reason: fmt.Sprintf("parentCID present but createType %q does not admit parents", p.d.CreateType)}
	}

	if err := computeLogicalStarts(p.d.Extents); err != nil {
		return nil, err
	}

	return p.d, nil
}

func (p *descriptorParser) parseHeaderLine(line int, m []string) error {
	key := m[1]
	value := m[2]
	if m[3] != "" {
		value = m[3]
	}

	if p.seenHeaderKey[key] {
		return &MalformedDescriptorError{Line: line, Reason: "duplicate header key: " + key}
	}
	p.seenHeaderKey[key] = true

	switch key {
	case "version":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return &MalformedDescriptorError{Line: line, Reason: "bad version: " + value}
		}
		p.d.Version = uint32(v)
	case "CID":
		v, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return &MalformedDescriptorError{Line: line, Reason: "bad CID: " + value}
		}
		p.d.ContentIdentifier = uint32(v)
		p.sawCID = true
	case "parentCID":
		v, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return &MalformedDescriptorError{Line: line, Reason: "bad parentCID: " + value}
		}
		if v != 0xffffffff {
			p.d.ParentContentIdentifier = uint32(v)
			p.d.HasParent = true
		}
	case "createType":
		dt, ok := createTypeToDiskType[value]
		if !ok {
			return &MalformedDescriptorError{Line: line, Reason: "unknown createType: " + value}
		}
		p.d.CreateType = value
		p.d.DiskType = dt
		p.sawCreateType = true
	case "parentFileNameHint":
		p.d.ParentFileNameHint = value
	case "encoding":
		p.d.Encoding = value
	default:
		p.d.header[key] = value
	}

	return nil
}

func (p *descriptorParser) parseExtentLine(line int, m []string) error {
	access, ok := accessFromToken[m[1]]
	if !ok {
		return &MalformedDescriptorError{Line: line, Reason: "unknown access mode: " + m[1]}
	}

	sizeSectors, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return &MalformedDescriptorError{Line: line, Reason: "bad extent size: " + m[2]}
	}
	if sizeSectors == 0 {
		return &MalformedDescriptorError{Line: line, Reason: "extent size_sectors must be nonzero"}
	}

	extType, ok := extentTypeFromToken[m[3]]
	if !ok {
		return &MalformedDescriptorError{Line: line, Reason: "unknown extent type: " + m[3]}
	}

	filename := m[4]
	if extType.requiresFilename() && filename == "" {
		return &MalformedDescriptorError{Line: line, Reason: "extent type " + extType.String() + " requires a filename"}
	}
	if !extType.requiresFilename() && filename != "" {
		return &MalformedDescriptorError{Line: line, Reason: "ZERO extent must not carry a filename"}
	}

	var offsetSectors uint64
	if m[5] != "" {
		offsetSectors, err = strconv.ParseUint(m[5], 10, 64)
		if err != nil {
			return &MalformedDescriptorError{Line: line, Reason: "bad extent offset: " + m[5]}
		}
		if extType != ExtentFlat && extType != ExtentVMFSFlat {
			return &MalformedDescriptorError{Line: line, Reason: "offset_sectors is only meaningful for FLAT/VMFS extents"}
		}
	}

	p.d.Extents = append(p.d.Extents, &ExtentDescriptor{
		Type:          extType,
		Access:        access,
		Filename:      filename,
		OffsetSectors: offsetSectors,
		SizeSectors:   sizeSectors,
	})

	return nil
}

func (p *descriptorParser) parseDiskDatabaseLine(line int, text string) error {
	m := headerLineRegex.FindStringSubmatch(text)
	if m == nil {
		return &MalformedDescriptorError{Line: line, Reason: "malformed ddb line: " + text}
	}
	value := m[2]
	if m[3] != "" {
		value = m[3]
	}
	p.d.diskDatabase[m[1]] = value
	return nil
}

// computeLogicalStarts fills in each extent's LogicalStartSector as the
// exclusive prefix sum of SizeSectors, checking for u64 overflow (spec §4.2).
func computeLogicalStarts(extents []*ExtentDescriptor) error {
	var total uint64
	for i, e := range extents {
		e.LogicalStartSector = total
		next := total + e.SizeSectors
		if next < total {
			return &MalformedDescriptorError{Line: 0, Reason: fmt.Sprintf("extent %d: logical offset overflow", i)}
		}
		total = next
	}
	return nil
}
