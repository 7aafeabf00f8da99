package storage

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// WAL record constants.
const (
	// WALRecordHeaderSize is the fixed size of the WAL record header.
	// Layout:
	//   - Bytes 0-7:   LSN (uint64)
	//   - Bytes 8-15:  TxID (uint64)
	//   - Byte 16:     Type (uint8)
	//   - Bytes 17-24: PageID (uint64)
	//   - Bytes 25-28: DataLen (uint32)
	//   - Bytes 29-32: Checksum (uint32)
	WALRecordHeaderSize = 33

	// MaxWALDataSize is the maximum payload of a single record: one page image.
	MaxWALDataSize = PageSize
)

// WALType represents the type of a WAL record.
type WALType uint8

const (
	// WALBegin marks the beginning of a transaction.
	WALBegin WALType = iota
	// WALCommit marks the successful completion of a transaction.
	WALCommit
	// WALAbort marks the rollback of a transaction.
	WALAbort
	// WALUpdate carries the full after-image of a page.
	WALUpdate
	// WALAllocate records that a page left the free pool.
	WALAllocate
	// WALFree records that a page returned to the free pool.
	WALFree
	// WALCheckpoint marks a checkpoint in the WAL.
	WALCheckpoint
)

// String returns the string representation of a WALType.
func (t WALType) String() string {
	switch t {
	case WALBegin:
		return "Begin"
	case WALCommit:
		return "Commit"
	case WALAbort:
		return "Abort"
	case WALUpdate:
		return "Update"
	case WALAllocate:
		return "Allocate"
	case WALFree:
		return "Free"
	case WALCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// WALRecord represents a single record in the Write-Ahead Log.
type WALRecord struct {
	LSN      uint64  // Log Sequence Number (monotonically increasing)
	TxID     uint64  // Transaction ID
	Type     WALType // Begin, Commit, Abort, Update, Allocate, Free, Checkpoint
	PageID   PageID  // Affected page (Update, Allocate, Free)
	Data     []byte  // Serialized page image (Update)
	Checksum uint32  // Truncated xxhash of the record
}

// Errors for WAL record operations.
var (
	ErrWALRecordTooSmall    = errors.New("WAL record buffer too small")
	ErrWALRecordChecksum    = errors.New("WAL record checksum mismatch")
	ErrWALDataTooLarge      = errors.New("WAL record data exceeds maximum size")
	ErrWALInvalidRecordType = errors.New("invalid WAL record type")
)

// NewWALRecord creates a control record (Begin, Commit, Abort, Checkpoint).
func NewWALRecord(txID uint64, recordType WALType) *WALRecord {
	return &WALRecord{TxID: txID, Type: recordType}
}

// NewWALPageRecord creates an Allocate or Free record for a page.
func NewWALPageRecord(txID uint64, recordType WALType, pageID PageID) *WALRecord {
	return &WALRecord{TxID: txID, Type: recordType, PageID: pageID}
}

// NewWALUpdateRecord creates an Update record carrying the page image.
func NewWALUpdateRecord(txID uint64, page *Page) (*WALRecord, error) {
	image, err := page.Serialize()
	if err != nil {
		return nil, err
	}
	return &WALRecord{
		TxID:   txID,
		Type:   WALUpdate,
		PageID: page.Header.PageID,
		Data:   image,
	}, nil
}

// Page decodes the page image of an Update record.
func (r *WALRecord) Page() (*Page, error) {
	if r.Type != WALUpdate {
		return nil, ErrWALInvalidRecordType
	}
	page := &Page{}
	if err := page.DeserializeAndValidate(r.Data); err != nil {
		return nil, err
	}
	return page, nil
}

// Size returns the total serialized size of the WAL record.
func (r *WALRecord) Size() int {
	return WALRecordHeaderSize + len(r.Data)
}

// Serialize writes the WAL record to a new byte slice.
func (r *WALRecord) Serialize() ([]byte, error) {
	buf := make([]byte, r.Size())
	if err := r.SerializeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SerializeTo writes the WAL record to an existing byte slice.
// The slice must be at least Size() bytes.
func (r *WALRecord) SerializeTo(buf []byte) error {
	size := r.Size()
	if len(buf) < size {
		return ErrWALRecordTooSmall
	}
	if len(r.Data) > MaxWALDataSize {
		return ErrWALDataTooLarge
	}
	if r.Type > WALCheckpoint {
		return ErrWALInvalidRecordType
	}

	binary.LittleEndian.PutUint64(buf[0:8], r.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], r.TxID)
	buf[16] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[17:25], uint64(r.PageID))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(len(r.Data)))
	binary.LittleEndian.PutUint32(buf[29:33], 0)
	copy(buf[WALRecordHeaderSize:], r.Data)

	r.Checksum = checksumWALRecord(buf[:size])
	binary.LittleEndian.PutUint32(buf[29:33], r.Checksum)

	return nil
}

// Deserialize reads the WAL record from a byte slice.
func (r *WALRecord) Deserialize(buf []byte) error {
	if len(buf) < WALRecordHeaderSize {
		return ErrWALRecordTooSmall
	}

	r.LSN = binary.LittleEndian.Uint64(buf[0:8])
	r.TxID = binary.LittleEndian.Uint64(buf[8:16])
	r.Type = WALType(buf[16])
	r.PageID = PageID(binary.LittleEndian.Uint64(buf[17:25]))
	dataLen := binary.LittleEndian.Uint32(buf[25:29])
	r.Checksum = binary.LittleEndian.Uint32(buf[29:33])

	if dataLen > MaxWALDataSize {
		return ErrWALDataTooLarge
	}
	if len(buf) < WALRecordHeaderSize+int(dataLen) {
		return ErrWALRecordTooSmall
	}

	r.Data = nil
	if dataLen > 0 {
		r.Data = make([]byte, dataLen)
		copy(r.Data, buf[WALRecordHeaderSize:])
	}

	return nil
}

// DeserializeAndValidate reads the record and validates its checksum.
func (r *WALRecord) DeserializeAndValidate(buf []byte) error {
	if err := r.Deserialize(buf); err != nil {
		return err
	}

	scratch := make([]byte, r.Size())
	copy(scratch, buf[:r.Size()])
	binary.LittleEndian.PutUint32(scratch[29:33], 0)
	if checksumWALRecord(scratch) != r.Checksum {
		return ErrWALRecordChecksum
	}

	if r.Type > WALCheckpoint {
		return ErrWALInvalidRecordType
	}

	return nil
}

// checksumWALRecord hashes a serialized record whose checksum field is zero.
func checksumWALRecord(buf []byte) uint32 {
	return uint32(xxhash.Sum64(buf))
}

// IsTransactionControl returns true if this is a transaction control record.
func (r *WALRecord) IsTransactionControl() bool {
	return r.Type == WALBegin || r.Type == WALCommit || r.Type == WALAbort
}
