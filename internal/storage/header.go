package storage

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// File header constants.
const (
	// FileHeaderSize is the size of the file header (first page).
	FileHeaderSize = PageSize

	// CurrentVersion is the current file format version.
	CurrentVersion uint32 = 1

	// fileHeaderFieldsSize covers every field the checksum protects.
	fileHeaderFieldsSize = 52
)

// Magic is the magic number for nestkv data files ("NKV\x00").
var Magic = [4]byte{'N', 'K', 'V', 0x00}

// RootPages contains pointers to root pages for different structures.
type RootPages struct {
	Catalog PageID // Catalog page holding the keyspace root
}

// FileHeader represents the header of a nestkv data file (first page).
// Layout:
//   - Bytes 0-3:     Magic number ("NKV\x00")
//   - Bytes 4-7:     Version (uint32)
//   - Bytes 8-11:    PageSize (uint32)
//   - Bytes 12-19:   TotalPages (uint64)
//   - Bytes 20-27:   FreeListHead (PageID/uint64)
//   - Bytes 28-35:   RootPages.Catalog (PageID/uint64)
//   - Bytes 36-43:   CheckpointLSN (uint64)
//   - Bytes 44-51:   NextTxID (uint64)
//   - Bytes 52-55:   Checksum (uint32)
//   - Bytes 56-4095: Reserved
type FileHeader struct {
	Magic         [4]byte
	Version       uint32
	PageSize      uint32
	TotalPages    uint64
	FreeListHead  PageID
	RootPages     RootPages
	CheckpointLSN uint64 // Last WAL LSN reflected in the data file
	NextTxID      uint64 // Transaction IDs continue from here on reopen
	Checksum      uint32
}

// Errors for file header operations.
var (
	ErrInvalidMagic       = errors.New("invalid magic number: not a nestkv file")
	ErrUnsupportedVersion = errors.New("unsupported file format version")
	ErrHeaderChecksum     = errors.New("file header checksum mismatch")
	ErrInvalidHeaderSize  = errors.New("invalid header size")
)

// NewFileHeader creates a new FileHeader with default values.
func NewFileHeader() *FileHeader {
	return &FileHeader{
		Magic:      Magic,
		Version:    CurrentVersion,
		PageSize:   PageSize,
		TotalPages: 1,
		NextTxID:   1,
	}
}

// Serialize writes the FileHeader to a new FileHeaderSize byte slice.
func (h *FileHeader) Serialize() ([]byte, error) {
	buf := make([]byte, FileHeaderSize)
	return buf, h.SerializeTo(buf)
}

// SerializeTo writes the FileHeader to an existing byte slice and updates
// the Checksum field.
func (h *FileHeader) SerializeTo(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}

	clear(buf[:FileHeaderSize])
	h.putFields(buf)

	h.Checksum = checksumHeaderFields(buf)
	binary.LittleEndian.PutUint32(buf[52:56], h.Checksum)

	return nil
}

func (h *FileHeader) putFields(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.FreeListHead))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(h.RootPages.Catalog))
	binary.LittleEndian.PutUint64(buf[36:44], h.CheckpointLSN)
	binary.LittleEndian.PutUint64(buf[44:52], h.NextTxID)
}

// Deserialize reads the FileHeader from a byte slice.
func (h *FileHeader) Deserialize(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return ErrInvalidHeaderSize
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	h.TotalPages = binary.LittleEndian.Uint64(buf[12:20])
	h.FreeListHead = PageID(binary.LittleEndian.Uint64(buf[20:28]))
	h.RootPages.Catalog = PageID(binary.LittleEndian.Uint64(buf[28:36]))
	h.CheckpointLSN = binary.LittleEndian.Uint64(buf[36:44])
	h.NextTxID = binary.LittleEndian.Uint64(buf[44:52])
	h.Checksum = binary.LittleEndian.Uint32(buf[52:56])

	return nil
}

func checksumHeaderFields(buf []byte) uint32 {
	return uint32(xxhash.Sum64(buf[:fileHeaderFieldsSize]))
}

// CalculateChecksum computes the checksum of the header fields.
func (h *FileHeader) CalculateChecksum() uint32 {
	buf := make([]byte, fileHeaderFieldsSize)
	h.putFields(buf)
	return checksumHeaderFields(buf)
}

// Validate performs all validation checks on the header.
func (h *FileHeader) Validate() error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}

	if h.Version > CurrentVersion || h.Version == 0 {
		return ErrUnsupportedVersion
	}

	if h.Checksum != h.CalculateChecksum() {
		return ErrHeaderChecksum
	}

	if h.PageSize != PageSize {
		return ErrInvalidPageSize
	}

	return nil
}

// DeserializeAndValidate reads the header and performs all validation checks.
func (h *FileHeader) DeserializeAndValidate(buf []byte) error {
	if err := h.Deserialize(buf); err != nil {
		return err
	}

	return h.Validate()
}

// IsDataFile checks if the given buffer starts with the nestkv magic number.
func IsDataFile(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	return [4]byte(buf[0:4]) == Magic
}
