package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAL constants.
const (
	// WALBufferSize is the default size of the WAL write buffer.
	WALBufferSize = 64 * 1024

	// WALRecordLengthSize is the size of the length prefix for each record.
	WALRecordLengthSize = 4

	maxWALRecordLength = WALRecordHeaderSize + MaxWALDataSize
)

// WAL errors.
var (
	ErrWALClosed       = errors.New("WAL is closed")
	ErrWALRecordLength = errors.New("invalid WAL record length")
)

// WAL represents the Write-Ahead Log for durability and crash recovery.
// Every page change a transaction makes is logged here and synced before
// the data file is touched.
type WAL struct {
	file       *os.File
	path       string
	currentLSN uint64
	size       int64 // bytes on disk, excluding the buffer
	buffer     []byte
	bufferPos  int
	mu         sync.Mutex
	closed     bool
}

// OpenWAL opens or creates a WAL file at the given path. A torn or corrupt
// tail left by a crash is truncated away.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	wal := &WAL{
		file:       file,
		path:       path,
		currentLSN: 1,
		buffer:     make([]byte, WALBufferSize),
	}

	if err := wal.recover(); err != nil {
		file.Close()
		return nil, err
	}

	return wal, nil
}

// recover scans existing records to find the next LSN and the end of the
// valid prefix.
func (w *WAL) recover() error {
	var offset int64
	var maxLSN uint64

	for {
		record, n, err := readRecordAt(w.file, offset)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrWALRecordLength) ||
				errors.Is(err, ErrWALRecordChecksum) || errors.Is(err, ErrWALRecordTooSmall) ||
				errors.Is(err, ErrWALDataTooLarge) || errors.Is(err, ErrWALInvalidRecordType) {
				break
			}
			return err
		}
		maxLSN = max(maxLSN, record.LSN)
		offset += n
	}

	if maxLSN > 0 {
		w.currentLSN = maxLSN + 1
	}

	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	w.size = offset

	return nil
}

// readRecordAt reads one length-prefixed record and returns it together with
// the number of bytes it occupies.
func readRecordAt(r io.ReaderAt, offset int64) (*WALRecord, int64, error) {
	var lengthBuf [WALRecordLengthSize]byte
	if _, err := r.ReadAt(lengthBuf[:], offset); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, 0, err
	}

	recordLen := binary.LittleEndian.Uint32(lengthBuf[:])
	if recordLen < WALRecordHeaderSize || recordLen > maxWALRecordLength {
		return nil, 0, ErrWALRecordLength
	}

	recordBuf := make([]byte, recordLen)
	if _, err := r.ReadAt(recordBuf, offset+WALRecordLengthSize); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, 0, err
	}

	record := &WALRecord{}
	if err := record.DeserializeAndValidate(recordBuf); err != nil {
		return nil, 0, err
	}

	return record, WALRecordLengthSize + int64(recordLen), nil
}

// Append writes a WAL record and returns its LSN.
// The record's LSN field will be set to the assigned LSN.
func (w *WAL) Append(record *WALRecord) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	record.LSN = w.currentLSN

	recordBuf, err := record.Serialize()
	if err != nil {
		return 0, err
	}

	totalSize := WALRecordLengthSize + len(recordBuf)
	if w.bufferPos+totalSize > len(w.buffer) {
		if err := w.flushBuffer(); err != nil {
			return 0, err
		}
	}

	binary.LittleEndian.PutUint32(w.buffer[w.bufferPos:], uint32(len(recordBuf)))
	w.bufferPos += WALRecordLengthSize
	copy(w.buffer[w.bufferPos:], recordBuf)
	w.bufferPos += len(recordBuf)

	lsn := w.currentLSN
	w.currentLSN++

	return lsn, nil
}

// flushBuffer writes the buffer contents to the file.
func (w *WAL) flushBuffer() error {
	if w.bufferPos == 0 {
		return nil
	}

	n, err := w.file.Write(w.buffer[:w.bufferPos])
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write WAL: %w", err)
	}

	w.bufferPos = 0
	return nil
}

// Sync ensures all WAL records are durably written to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	if err := w.flushBuffer(); err != nil {
		return err
	}

	return w.file.Sync()
}

// Reset discards every record. It is called once a checkpoint has made the
// logged changes durable in the data file. LSNs keep increasing across
// resets.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	w.bufferPos = 0
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.size = 0

	return w.file.Sync()
}

// SetNextLSN raises the next LSN to at least lsn. Used on open so LSNs
// stay above the data file's checkpoint LSN after the log was reset.
func (w *WAL) SetNextLSN(lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentLSN = max(w.currentLSN, lsn)
}

// CurrentLSN returns the next LSN that will be assigned.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// Size returns the number of bytes in the log, including buffered records.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size + int64(w.bufferPos)
}

// Path returns the WAL file path.
func (w *WAL) Path() string {
	return w.path
}

// Close flushes and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if err := w.flushBuffer(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}

	w.closed = true
	return w.file.Close()
}

// Iterator returns an iterator over records with LSN >= startLSN.
// Buffered records are flushed first so they are visible.
func (w *WAL) Iterator(startLSN uint64) *WALIterator {
	w.mu.Lock()
	defer w.mu.Unlock()

	it := &WALIterator{wal: w, startLSN: startLSN}
	if w.closed {
		it.err = ErrWALClosed
		return it
	}
	it.err = w.flushBuffer()
	return it
}

// WALIterator iterates over WAL records in log order.
type WALIterator struct {
	wal      *WAL
	startLSN uint64
	offset   int64
	record   *WALRecord
	err      error
}

// Next advances to the next record and returns true if there is one.
func (it *WALIterator) Next() bool {
	if it.err != nil {
		return false
	}

	it.wal.mu.Lock()
	defer it.wal.mu.Unlock()

	for it.offset < it.wal.size {
		record, n, err := readRecordAt(it.wal.file, it.offset)
		if err != nil {
			it.err = err
			return false
		}
		it.offset += n
		if record.LSN >= it.startLSN {
			it.record = record
			return true
		}
	}

	it.record = nil
	return false
}

// Record returns the current WAL record.
func (it *WALIterator) Record() *WALRecord {
	return it.record
}

// Err returns any error encountered during iteration.
func (it *WALIterator) Err() error {
	return it.err
}
