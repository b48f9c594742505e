package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/edgevec/edgevec/internal/index/hnsw"
	"github.com/edgevec/edgevec/internal/meta"
)

// Snapshot file layout. The header is always exactly 64 bytes; all
// integers are little-endian.
const (
	Magic        = "EVEC"
	MetaMagic    = "META"
	HeaderSize   = 64
	VersionMajor = 0
	// VersionMinor is the version written by this release. Version 3
	// files (no metadata section) are still readable.
	VersionMinor    = 4
	MinVersionMinor = 3

	offMagic       = 0x00
	offMajor       = 0x04
	offMinor       = 0x05
	offFlags       = 0x06
	offVectorCount = 0x08
	offIndexOff    = 0x10
	offTombstone   = 0x18
	offRNGSeed     = 0x20
	offDimensions  = 0x28
	offHeaderCRC   = 0x2C
	offM           = 0x30
	offM0          = 0x34
	offDataCRC     = 0x38
	offDeleted     = 0x3C
)

// Header flag bits.
const (
	FlagCompressed  uint16 = 1 << 0
	FlagQuantized   uint16 = 1 << 1
	FlagHasMetadata uint16 = 1 << 2
	// FlagBinary marks the binary storage variant; dimensions then
	// records the nominal bit-dimension.
	FlagBinary uint16 = 1 << 3
)

// Metadata serialization formats.
const (
	MetaFormatBinary uint8 = 1
	MetaFormatJSON   uint8 = 2
)

// MaxMetadataSection caps the serialized metadata payload at 50 MiB.
const MaxMetadataSection = 50 << 20

const nodeRecordSize = 16
const metaSubHeaderSize = 16

// Snapshot failure modes.
var (
	ErrCorruptSnapshot         = errors.New("persist: corrupt snapshot")
	ErrUnsupportedVersion      = errors.New("persist: unsupported snapshot version")
	ErrMetadataSectionTooLarge = errors.New("persist: metadata section exceeds size cap")
)

// Snapshot is the decoded on-disk state of an index.
type Snapshot struct {
	VersionMinor uint8
	Flags        uint16
	VectorCount  uint64
	RNGSeed      int64
	Dimensions   uint32
	M            uint32 // zero for a flat index: no graph section
	M0           uint32
	DeletedCount uint32

	Vectors       []byte
	DeletedBitmap []byte

	// Graph state, present when M > 0.
	Nodes      []hnsw.Node
	Pool       []uint32
	EntryPoint uint32
	MaxLayer   uint8

	// Metadata, nil when absent (always nil for v3 files).
	Metadata       *meta.Store
	MetadataFormat uint8
}

// Write serializes the snapshot and atomically replaces the backend
// contents. All offsets are precomputed, section bodies filled, and the
// two header CRCs patched last.
func Write(b Backend, snap *Snapshot) error {
	if snap.Flags&FlagCompressed != 0 {
		return fmt.Errorf("persist: compressed snapshots are not supported")
	}

	var graph []byte
	if snap.M > 0 {
		graph = encodeGraph(snap)
	}

	var metaSection []byte
	flags := snap.Flags &^ FlagHasMetadata
	if snap.Metadata != nil && snap.Metadata.Len() > 0 {
		var err error
		metaSection, err = encodeMetadataSection(snap.Metadata, snap.MetadataFormat)
		if err != nil {
			return err
		}
		flags |= FlagHasMetadata
	}

	indexOffset := uint64(HeaderSize + len(snap.Vectors))
	tombstoneOffset := indexOffset + uint64(len(graph))

	total := int(tombstoneOffset) + len(snap.DeletedBitmap) + len(metaSection)
	buf := make([]byte, HeaderSize, total)

	copy(buf[offMagic:], Magic)
	buf[offMajor] = VersionMajor
	buf[offMinor] = VersionMinor
	binary.LittleEndian.PutUint16(buf[offFlags:], flags)
	binary.LittleEndian.PutUint64(buf[offVectorCount:], snap.VectorCount)
	binary.LittleEndian.PutUint64(buf[offIndexOff:], indexOffset)
	binary.LittleEndian.PutUint64(buf[offTombstone:], tombstoneOffset)
	binary.LittleEndian.PutUint64(buf[offRNGSeed:], uint64(snap.RNGSeed))
	binary.LittleEndian.PutUint32(buf[offDimensions:], snap.Dimensions)
	binary.LittleEndian.PutUint32(buf[offM:], snap.M)
	binary.LittleEndian.PutUint32(buf[offM0:], snap.M0)
	binary.LittleEndian.PutUint32(buf[offDeleted:], snap.DeletedCount)

	buf = append(buf, snap.Vectors...)
	buf = append(buf, graph...)
	buf = append(buf, snap.DeletedBitmap...)
	buf = append(buf, metaSection...)

	// CRCs last: data first, because the header CRC covers that field.
	binary.LittleEndian.PutUint32(buf[offDataCRC:], crc32.ChecksumIEEE(buf[HeaderSize:]))
	binary.LittleEndian.PutUint32(buf[offHeaderCRC:], headerCRC(buf[:HeaderSize]))

	if err := b.WriteAll(buf); err != nil {
		return err
	}
	return b.Sync()
}

// headerCRC computes the CRC32 of the 64-byte header with the CRC field
// itself zeroed.
func headerCRC(header []byte) uint32 {
	var scratch [HeaderSize]byte
	copy(scratch[:], header)
	binary.LittleEndian.PutUint32(scratch[offHeaderCRC:], 0)
	return crc32.ChecksumIEEE(scratch[:])
}

func encodeGraph(snap *Snapshot) []byte {
	size := 8 + nodeRecordSize*len(snap.Nodes) + 8 + 4*len(snap.Pool)
	buf := make([]byte, 0, size)

	var head [8]byte
	binary.LittleEndian.PutUint32(head[:], snap.EntryPoint)
	head[4] = snap.MaxLayer
	buf = append(buf, head[:]...)

	var rec [nodeRecordSize]byte
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		binary.LittleEndian.PutUint64(rec[0:], n.ID)
		binary.LittleEndian.PutUint32(rec[8:], n.NeighborOffset)
		binary.LittleEndian.PutUint16(rec[12:], n.NeighborLen)
		rec[14] = n.TopLayer
		if n.Deleted {
			rec[15] = 1
		} else {
			rec[15] = 0
		}
		buf = append(buf, rec[:]...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(snap.Pool)))
	for _, v := range snap.Pool {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

func decodeGraph(data []byte, nodeCount uint64) ([]hnsw.Node, []uint32, uint32, uint8, error) {
	need := uint64(8) + nodeCount*nodeRecordSize + 8
	if uint64(len(data)) < need {
		return nil, nil, 0, 0, fmt.Errorf("%w: graph section truncated", ErrCorruptSnapshot)
	}

	entry := binary.LittleEndian.Uint32(data)
	maxLayer := data[4]
	data = data[8:]

	nodes := make([]hnsw.Node, nodeCount)
	for i := range nodes {
		rec := data[i*nodeRecordSize:]
		nodes[i] = hnsw.Node{
			ID:             binary.LittleEndian.Uint64(rec),
			NeighborOffset: binary.LittleEndian.Uint32(rec[8:]),
			NeighborLen:    binary.LittleEndian.Uint16(rec[12:]),
			TopLayer:       rec[14],
			Deleted:        rec[15] != 0,
		}
	}
	data = data[nodeCount*nodeRecordSize:]

	poolLen := binary.LittleEndian.Uint64(data)
	data = data[8:]
	if uint64(len(data)) < poolLen*4 {
		return nil, nil, 0, 0, fmt.Errorf("%w: neighbour pool truncated", ErrCorruptSnapshot)
	}
	pool := make([]uint32, poolLen)
	for i := range pool {
		pool[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nodes, pool, entry, maxLayer, nil
}

func encodeMetadataSection(store *meta.Store, format uint8) ([]byte, error) {
	if format == 0 {
		format = MetaFormatBinary
	}

	var payload []byte
	var err error
	switch format {
	case MetaFormatBinary:
		payload, err = store.EncodeMsgpack()
	case MetaFormatJSON:
		payload, err = store.MarshalJSON()
	default:
		return nil, fmt.Errorf("persist: unknown metadata format %d", format)
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxMetadataSection {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetadataSectionTooLarge, len(payload))
	}

	buf := make([]byte, metaSubHeaderSize, metaSubHeaderSize+len(payload))
	copy(buf, MetaMagic)
	binary.LittleEndian.PutUint16(buf[4:], 1) // section_version
	buf[6] = format
	buf[7] = 0 // reserved
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(payload))
	return append(buf, payload...), nil
}

func decodeMetadataSection(data []byte) (*meta.Store, uint8, error) {
	if len(data) < metaSubHeaderSize {
		return nil, 0, fmt.Errorf("%w: metadata sub-header truncated", ErrCorruptSnapshot)
	}
	if !bytes.Equal(data[:4], []byte(MetaMagic)) {
		return nil, 0, fmt.Errorf("%w: bad metadata magic", ErrCorruptSnapshot)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != 1 {
		return nil, 0, fmt.Errorf("%w: metadata section version %d", ErrUnsupportedVersion, v)
	}
	format := data[6]
	size := binary.LittleEndian.Uint32(data[8:])
	wantCRC := binary.LittleEndian.Uint32(data[12:])

	if size > MaxMetadataSection {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrMetadataSectionTooLarge, size)
	}
	payload := data[metaSubHeaderSize:]
	if uint32(len(payload)) < size {
		return nil, 0, fmt.Errorf("%w: metadata payload truncated", ErrCorruptSnapshot)
	}
	payload = payload[:size]
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, 0, fmt.Errorf("%w: metadata payload crc mismatch", ErrCorruptSnapshot)
	}

	store := meta.NewStore()
	switch format {
	case MetaFormatBinary:
		if err := store.DecodeMsgpack(payload); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	case MetaFormatJSON:
		if err := store.UnmarshalJSON(payload); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	default:
		return nil, 0, fmt.Errorf("%w: unknown metadata format %d", ErrCorruptSnapshot, format)
	}
	return store, format, nil
}

// Read loads and verifies a snapshot from the backend, leaving the
// backend untouched on any failure.
func Read(b Backend) (*Snapshot, error) {
	size, err := b.Size()
	if err != nil {
		return nil, err
	}
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrCorruptSnapshot, size)
	}

	data, err := b.Read(0, size)
	if err != nil {
		return nil, err
	}
	header := data[:HeaderSize]

	if !bytes.Equal(header[offMagic:offMagic+4], []byte(Magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if header[offMajor] != VersionMajor {
		return nil, fmt.Errorf("%w: major %d", ErrUnsupportedVersion, header[offMajor])
	}
	minor := header[offMinor]
	if minor < MinVersionMinor || minor > VersionMinor {
		return nil, fmt.Errorf("%w: minor %d (supported %d..%d)",
			ErrUnsupportedVersion, minor, MinVersionMinor, VersionMinor)
	}
	if binary.LittleEndian.Uint32(header[offHeaderCRC:]) != headerCRC(header) {
		return nil, fmt.Errorf("%w: header crc mismatch", ErrCorruptSnapshot)
	}
	if crc32.ChecksumIEEE(data[HeaderSize:]) != binary.LittleEndian.Uint32(header[offDataCRC:]) {
		return nil, fmt.Errorf("%w: data crc mismatch", ErrCorruptSnapshot)
	}

	snap := &Snapshot{
		VersionMinor: minor,
		Flags:        binary.LittleEndian.Uint16(header[offFlags:]),
		VectorCount:  binary.LittleEndian.Uint64(header[offVectorCount:]),
		RNGSeed:      int64(binary.LittleEndian.Uint64(header[offRNGSeed:])),
		Dimensions:   binary.LittleEndian.Uint32(header[offDimensions:]),
		M:            binary.LittleEndian.Uint32(header[offM:]),
		M0:           binary.LittleEndian.Uint32(header[offM0:]),
		DeletedCount: binary.LittleEndian.Uint32(header[offDeleted:]),
	}
	if snap.Flags&FlagCompressed != 0 {
		return nil, fmt.Errorf("%w: compressed snapshots are not supported", ErrUnsupportedVersion)
	}

	indexOffset := binary.LittleEndian.Uint64(header[offIndexOff:])
	tombstoneOffset := binary.LittleEndian.Uint64(header[offTombstone:])
	if indexOffset < HeaderSize || tombstoneOffset < indexOffset || tombstoneOffset > uint64(size) {
		return nil, fmt.Errorf("%w: section offsets not monotonic", ErrCorruptSnapshot)
	}

	snap.Vectors = data[HeaderSize:indexOffset]

	if snap.M > 0 {
		nodes, pool, entry, maxLayer, err := decodeGraph(data[indexOffset:tombstoneOffset], snap.VectorCount)
		if err != nil {
			return nil, err
		}
		if uint64(len(nodes)) != snap.VectorCount {
			return nil, fmt.Errorf("%w: node count %d does not match header %d",
				ErrCorruptSnapshot, len(nodes), snap.VectorCount)
		}
		snap.Nodes = nodes
		snap.Pool = pool
		snap.EntryPoint = entry
		snap.MaxLayer = maxLayer
	} else if tombstoneOffset != indexOffset {
		return nil, fmt.Errorf("%w: flat snapshot carries a graph section", ErrCorruptSnapshot)
	}

	bitmapLen := (snap.VectorCount + 7) / 8
	if uint64(size) < tombstoneOffset+bitmapLen {
		return nil, fmt.Errorf("%w: deleted bitmap truncated", ErrCorruptSnapshot)
	}
	snap.DeletedBitmap = data[tombstoneOffset : tombstoneOffset+bitmapLen]

	if minor >= 4 && snap.Flags&FlagHasMetadata != 0 {
		store, format, err := decodeMetadataSection(data[tombstoneOffset+bitmapLen:])
		if err != nil {
			return nil, err
		}
		snap.Metadata = store
		snap.MetadataFormat = format
	}

	return snap, nil
}
