package persist

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgevec/edgevec/internal/index/hnsw"
	"github.com/edgevec/edgevec/internal/meta"
)

func fileBackend(t *testing.T) *FileBackend {
	t.Helper()
	return NewFileBackend(filepath.Join(t.TempDir(), "index.snap"))
}

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	store := meta.NewStore()
	require.NoError(t, store.Set(0, "category", meta.String("a")))
	require.NoError(t, store.Set(2, "price", meta.Float(12.5)))

	return &Snapshot{
		VectorCount:  3,
		RNGSeed:      42,
		Dimensions:   2,
		M:            4,
		M0:           8,
		DeletedCount: 1,
		Vectors:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24},
		Nodes: []hnsw.Node{
			{ID: 0, NeighborOffset: 0, NeighborLen: 8, TopLayer: 0},
			{ID: 1, NeighborOffset: 8, NeighborLen: 12, TopLayer: 1, Deleted: true},
			{ID: 2, NeighborOffset: 20, NeighborLen: 8, TopLayer: 0},
		},
		Pool:          makePool(28),
		EntryPoint:    2,
		MaxLayer:      1,
		DeletedBitmap: []byte{0b010},
		Metadata:      store,
	}
}

func makePool(n int) []uint32 {
	pool := make([]uint32, n)
	for i := range pool {
		pool[i] = hnsw.NoNode
	}
	pool[0] = 2
	pool[20] = 0
	return pool
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := fileBackend(t)
	snap := sampleSnapshot(t)
	require.NoError(t, Write(b, snap))

	got, err := Read(b)
	require.NoError(t, err)

	assert.Equal(t, uint8(VersionMinor), got.VersionMinor)
	assert.Equal(t, snap.VectorCount, got.VectorCount)
	assert.Equal(t, snap.RNGSeed, got.RNGSeed)
	assert.Equal(t, snap.Dimensions, got.Dimensions)
	assert.Equal(t, snap.M, got.M)
	assert.Equal(t, snap.M0, got.M0)
	assert.Equal(t, snap.DeletedCount, got.DeletedCount)
	assert.Equal(t, snap.Vectors, got.Vectors)
	assert.Equal(t, snap.Nodes, got.Nodes)
	assert.Equal(t, snap.Pool, got.Pool)
	assert.Equal(t, snap.EntryPoint, got.EntryPoint)
	assert.Equal(t, snap.MaxLayer, got.MaxLayer)
	assert.Equal(t, snap.DeletedBitmap, got.DeletedBitmap)
	assert.NotZero(t, got.Flags&FlagHasMetadata)

	require.NotNil(t, got.Metadata)
	v, ok := got.Metadata.Get(0, "category")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "a", s)
}

func TestSnapshotHeaderIs64Bytes(t *testing.T) {
	b := fileBackend(t)
	snap := sampleSnapshot(t)
	require.NoError(t, Write(b, snap))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	assert.Equal(t, "EVEC", string(data[:4]))
	assert.Equal(t, byte(VersionMajor), data[0x04])
	assert.Equal(t, byte(VersionMinor), data[0x05])
	assert.Equal(t, snap.VectorCount, binary.LittleEndian.Uint64(data[0x08:]))
	assert.Equal(t, uint64(HeaderSize+len(snap.Vectors)), binary.LittleEndian.Uint64(data[0x10:]))
	assert.Equal(t, snap.Dimensions, binary.LittleEndian.Uint32(data[0x28:]))
	assert.Equal(t, snap.M, binary.LittleEndian.Uint32(data[0x30:]))
	assert.Equal(t, snap.M0, binary.LittleEndian.Uint32(data[0x34:]))
	assert.Equal(t, snap.DeletedCount, binary.LittleEndian.Uint32(data[0x3C:]))
}

func TestFlatSnapshotRoundTrip(t *testing.T) {
	b := fileBackend(t)
	snap := &Snapshot{
		VectorCount:   2,
		Dimensions:    2,
		Vectors:       make([]byte, 16),
		DeletedBitmap: []byte{0},
	}
	require.NoError(t, Write(b, snap))

	got, err := Read(b)
	require.NoError(t, err)
	assert.Zero(t, got.M)
	assert.Nil(t, got.Nodes)
	assert.Nil(t, got.Metadata)
}

func TestSnapshotMetadataJSONFormat(t *testing.T) {
	b := fileBackend(t)
	snap := sampleSnapshot(t)
	snap.MetadataFormat = MetaFormatJSON
	require.NoError(t, Write(b, snap))

	got, err := Read(b)
	require.NoError(t, err)
	assert.Equal(t, MetaFormatJSON, got.MetadataFormat)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 2, got.Metadata.Len())
}

func TestV3FileLoadsWithoutMetadata(t *testing.T) {
	b := fileBackend(t)
	snap := sampleSnapshot(t)
	snap.Metadata = nil
	require.NoError(t, Write(b, snap))

	// Rewrite the header as version 3 and repair its CRC.
	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	data[offMinor] = 3
	binary.LittleEndian.PutUint32(data[offHeaderCRC:], headerCRC(data[:HeaderSize]))
	require.NoError(t, os.WriteFile(b.Path(), data, 0o644))

	got, err := Read(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.VersionMinor)
	assert.Nil(t, got.Metadata)
	assert.Zero(t, got.Flags&FlagHasMetadata)
}

func TestNewerMinorRefused(t *testing.T) {
	b := fileBackend(t)
	require.NoError(t, Write(b, sampleSnapshot(t)))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	data[offMinor] = VersionMinor + 1
	binary.LittleEndian.PutUint32(data[offHeaderCRC:], headerCRC(data[:HeaderSize]))
	require.NoError(t, os.WriteFile(b.Path(), data, 0o644))

	_, err = Read(b)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestBadMagicRejected(t *testing.T) {
	b := fileBackend(t)
	require.NoError(t, Write(b, sampleSnapshot(t)))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	data[0] = 'X'
	require.NoError(t, os.WriteFile(b.Path(), data, 0o644))

	_, err = Read(b)
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestHeaderCRCDetectsFlips(t *testing.T) {
	b := fileBackend(t)
	require.NoError(t, Write(b, sampleSnapshot(t)))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	data[offDimensions] ^= 0xFF
	require.NoError(t, os.WriteFile(b.Path(), data, 0o644))

	_, err = Read(b)
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestDataCRCDetectsFlips(t *testing.T) {
	b := fileBackend(t)
	require.NoError(t, Write(b, sampleSnapshot(t)))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	data[HeaderSize+3] ^= 0xFF
	require.NoError(t, os.WriteFile(b.Path(), data, 0o644))

	_, err = Read(b)
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestTruncatedFileRejected(t *testing.T) {
	b := fileBackend(t)
	require.NoError(t, Write(b, sampleSnapshot(t)))

	data, err := os.ReadFile(b.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.Path(), data[:40], 0o644))

	_, err = Read(b)
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestBadgerBackendRoundTrip(t *testing.T) {
	db, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	b := NewBadgerBackend(db, "snapshots/main")
	snap := sampleSnapshot(t)
	require.NoError(t, Write(b, snap))

	got, err := Read(b)
	require.NoError(t, err)
	assert.Equal(t, snap.Vectors, got.Vectors)
	assert.Equal(t, snap.Nodes, got.Nodes)
	require.NotNil(t, got.Metadata)

	// A second write replaces the previous snapshot atomically.
	snap.DeletedCount = 2
	require.NoError(t, Write(b, snap))
	got, err = Read(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.DeletedCount)
}

func TestFileBackendSizeMissingFile(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "absent.snap"))
	size, err := b.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}
