package edgevec

import (
	"errors"

	"github.com/edgevec/edgevec/internal/filter"
	"github.com/edgevec/edgevec/internal/index/hnsw"
	"github.com/edgevec/edgevec/internal/meta"
	"github.com/edgevec/edgevec/internal/persist"
	"github.com/edgevec/edgevec/internal/storage"
)

// Input validation errors.
var (
	ErrDimensionMismatch = errors.New("vector dimension does not match index configuration")
	ErrEmptyBatch        = errors.New("batch contains no items")
	ErrCapacityExceeded  = storage.ErrCapacityExceeded
	ErrInvalidVector     = errors.New("vector contains NaN or infinite components")
	ErrInvalidFilter     = filter.ErrInvalidFilter
	ErrInvalidK          = errors.New("k must not be negative")
)

// State errors.
var (
	ErrNotFound       = errors.New("vector id not found")
	ErrAlreadyDeleted = errors.New("vector is already deleted")
	ErrEmptyIndex     = hnsw.ErrEmptyIndex
	ErrClosed         = errors.New("index is closed")
)

// Integrity errors.
var (
	ErrCorruptSnapshot    = persist.ErrCorruptSnapshot
	ErrCorruptGraph       = hnsw.ErrCorruptGraph
	ErrUnsupportedVersion = persist.ErrUnsupportedVersion
)

// Metadata errors, surfaced from the metadata store.
var (
	ErrMetadataEmptyKey         = meta.ErrEmptyKey
	ErrMetadataKeyTooLong       = meta.ErrKeyTooLong
	ErrMetadataInvalidKeyFormat = meta.ErrInvalidKeyFormat
	ErrMetadataStringTooLong    = meta.ErrStringTooLong
	ErrMetadataArrayTooLong     = meta.ErrArrayTooLong
	ErrMetadataInvalidFloat     = meta.ErrInvalidFloat
	ErrMetadataTooManyKeys      = meta.ErrTooManyKeys
	ErrMetadataKeyNotFound      = meta.ErrKeyNotFound
	ErrMetadataSectionTooLarge  = persist.ErrMetadataSectionTooLarge
)

// ErrorCode classifies a failure into its layer-level kind.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeDimensionMismatch
	CodeEmptyBatch
	CodeCapacityExceeded
	CodeInvalidVector
	CodeInvalidFilter
	CodeMetadata
	CodeNotFound
	CodeAlreadyDeleted
	CodeEmptyIndex
	CodeClosed
	CodeCorruptSnapshot
	CodeCorruptGraph
	CodeIO
)

// Code maps an error returned by this package to its code; wrapped
// errors classify through errors.Is.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrDimensionMismatch), errors.Is(err, storage.ErrInvalidDimension):
		return CodeDimensionMismatch
	case errors.Is(err, ErrEmptyBatch):
		return CodeEmptyBatch
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrInvalidVector):
		return CodeInvalidVector
	case errors.Is(err, ErrInvalidFilter):
		return CodeInvalidFilter
	case errors.Is(err, meta.ErrEmptyKey),
		errors.Is(err, meta.ErrKeyTooLong),
		errors.Is(err, meta.ErrInvalidKeyFormat),
		errors.Is(err, meta.ErrStringTooLong),
		errors.Is(err, meta.ErrArrayTooLong),
		errors.Is(err, meta.ErrInvalidFloat),
		errors.Is(err, meta.ErrTooManyKeys),
		errors.Is(err, meta.ErrKeyNotFound),
		errors.Is(err, meta.ErrSerialization),
		errors.Is(err, persist.ErrMetadataSectionTooLarge):
		return CodeMetadata
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyDeleted):
		return CodeAlreadyDeleted
	case errors.Is(err, ErrEmptyIndex):
		return CodeEmptyIndex
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrCorruptSnapshot), errors.Is(err, ErrUnsupportedVersion):
		return CodeCorruptSnapshot
	case errors.Is(err, ErrCorruptGraph):
		return CodeCorruptGraph
	default:
		return CodeIO
	}
}
