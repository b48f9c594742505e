// Package wal implements the write-ahead log: length-prefixed records
// appended before a mutation becomes visible, truncated at snapshot
// boundaries.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// RecordType identifies the mutation a record carries.
type RecordType uint8

const (
	OpInsert RecordType = iota
	OpSoftDelete
	OpSetMetadata
	OpDeleteMetadata
	OpDeleteAllMetadata
)

// Record is a single decoded WAL entry.
//
// The wire format is `u32 length | u8 type | u64 seq | payload | u32 crc`
// with the CRC32 (IEEE) covering the length-prefixed region (type, seq
// and payload). Sequence numbers are monotonically increasing.
type Record struct {
	Seq     uint64
	Type    RecordType
	Payload []byte
}

// ErrCorruptRecord reports a record whose CRC or framing failed.
var ErrCorruptRecord = errors.New("wal: corrupt record")

// Log is an append-only WAL segment backed by a single file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	seq    uint64
	closed bool
}

// Open opens (or creates) the WAL segment at path. Existing records are
// scanned to recover the last sequence number.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	l := &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}

	records, err := l.Read()
	if err != nil {
		file.Close()
		return nil, err
	}
	if n := len(records); n > 0 {
		l.seq = records[n-1].Seq
	}
	return l, nil
}

// Path returns the segment path.
func (l *Log) Path() string { return l.path }

// Append writes one record and syncs it to stable storage, returning the
// assigned sequence number.
func (l *Log) Append(typ RecordType, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, errors.New("wal: log is closed")
	}

	l.seq++
	body := make([]byte, 1+8+len(payload))
	body[0] = byte(typ)
	binary.LittleEndian.PutUint64(body[1:], l.seq)
	copy(body[9:], payload)

	var frame [4]byte
	binary.LittleEndian.PutUint32(frame[:], uint32(len(body)))
	if _, err := l.writer.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("wal: write length: %w", err)
	}
	if _, err := l.writer.Write(body); err != nil {
		return 0, fmt.Errorf("wal: write body: %w", err)
	}
	binary.LittleEndian.PutUint32(frame[:], crc32.ChecksumIEEE(body))
	if _, err := l.writer.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("wal: write crc: %w", err)
	}

	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("wal: flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal: sync: %w", err)
	}
	return l.seq, nil
}

// AppendInsert logs an insert: `u64 id | payload bytes`.
func (l *Log) AppendInsert(id uint64, record []byte) (uint64, error) {
	payload := make([]byte, 8+len(record))
	binary.LittleEndian.PutUint64(payload, id)
	copy(payload[8:], record)
	return l.Append(OpInsert, payload)
}

// AppendSoftDelete logs a soft delete: `u64 id`.
func (l *Log) AppendSoftDelete(id uint64) (uint64, error) {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], id)
	return l.Append(OpSoftDelete, payload[:])
}

// AppendSetMetadata logs a metadata write:
// `u64 id | u16 key_len | key | tagged value`.
func (l *Log) AppendSetMetadata(id uint64, key string, value []byte) (uint64, error) {
	payload := make([]byte, 8+2+len(key)+len(value))
	binary.LittleEndian.PutUint64(payload, id)
	binary.LittleEndian.PutUint16(payload[8:], uint16(len(key)))
	copy(payload[10:], key)
	copy(payload[10+len(key):], value)
	return l.Append(OpSetMetadata, payload)
}

// AppendDeleteMetadata logs a single-key metadata delete.
func (l *Log) AppendDeleteMetadata(id uint64, key string) (uint64, error) {
	payload := make([]byte, 8+2+len(key))
	binary.LittleEndian.PutUint64(payload, id)
	binary.LittleEndian.PutUint16(payload[8:], uint16(len(key)))
	copy(payload[10:], key)
	return l.Append(OpDeleteMetadata, payload)
}

// AppendDeleteAllMetadata logs removal of every metadata row of id.
func (l *Log) AppendDeleteAllMetadata(id uint64) (uint64, error) {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], id)
	return l.Append(OpDeleteAllMetadata, payload[:])
}

// Read decodes every record in the segment. A torn final record (short
// read at EOF) terminates the scan without error; a CRC mismatch fails
// with ErrCorruptRecord.
func (l *Log) Read() ([]Record, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open for read: %w", err)
	}
	defer file.Close()

	var records []Record
	reader := bufio.NewReader(file)
	for {
		var frame [4]byte
		if _, err := io.ReadFull(reader, frame[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break // torn length prefix
			}
			return nil, fmt.Errorf("wal: read length: %w", err)
		}
		length := binary.LittleEndian.Uint32(frame[:])
		if length < 9 {
			return nil, fmt.Errorf("%w: frame length %d", ErrCorruptRecord, length)
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break // torn body
			}
			return nil, fmt.Errorf("wal: read body: %w", err)
		}
		if _, err := io.ReadFull(reader, frame[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break // torn crc
			}
			return nil, fmt.Errorf("wal: read crc: %w", err)
		}
		if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(frame[:]) {
			return nil, fmt.Errorf("%w: crc mismatch", ErrCorruptRecord)
		}

		records = append(records, Record{
			Type:    RecordType(body[0]),
			Seq:     binary.LittleEndian.Uint64(body[1:9]),
			Payload: body[9:],
		})
	}
	return records, nil
}

// Truncate discards every record, as done at snapshot boundaries.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("wal: log is closed")
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("wal: close before truncate: %w", err)
	}
	file, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("wal: recreate: %w", err)
	}
	l.file = file
	l.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and releases the segment file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("wal: close: %v", errs)
	}
	return nil
}
