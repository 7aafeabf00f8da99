package backup

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Backup format constants.
const (
	// Version is the current backup format version.
	Version uint32 = 1

	// HeaderSize is the size of the backup header in bytes.
	HeaderSize = 64

	// FileExtension is the conventional suffix of backup files.
	FileExtension = ".nkvb"
)

// Magic is the magic number for nestkv backup files.
var Magic = [4]byte{'N', 'K', 'V', 'B'}

// Backup errors.
var (
	ErrNilDatabase       = errors.New("database is nil")
	ErrBackupFailed      = errors.New("backup failed")
	ErrRestoreFailed     = errors.New("restore failed")
	ErrInvalidBackup     = errors.New("invalid backup file")
	ErrInvalidMagic      = errors.New("invalid backup magic number")
	ErrUnsupportedFormat = errors.New("unsupported backup format")
	ErrChecksumMismatch  = errors.New("backup checksum mismatch")
	ErrOutputPathEmpty   = errors.New("output path is empty")
	ErrInputPathEmpty    = errors.New("input path is empty")
	ErrDataDirEmpty      = errors.New("data directory is empty")
	ErrDataExists        = errors.New("data directory already holds a database")
	ErrBackupTruncated   = errors.New("backup file is truncated")
	ErrBackupCorrupted   = errors.New("backup file is corrupted")
)

// Options configures a backup.
type Options struct {
	// OutputPath is the path of the backup file. An existing file is
	// replaced only once the new backup is complete.
	OutputPath string

	// Compress stores the pages as a zstd stream.
	Compress bool
}

// Validate validates the backup options.
func (o *Options) Validate() error {
	if o.OutputPath == "" {
		return ErrOutputPathEmpty
	}
	return nil
}

// RestoreOptions configures a restore.
type RestoreOptions struct {
	// InputPath is the path to the backup file.
	InputPath string

	// DataDir is the database directory to restore into.
	DataDir string

	// Force replaces a database already present in DataDir.
	Force bool
}

// Validate validates the restore options.
func (o *RestoreOptions) Validate() error {
	if o.InputPath == "" {
		return ErrInputPathEmpty
	}
	if o.DataDir == "" {
		return ErrDataDirEmpty
	}
	return nil
}

// Header represents the header of a backup file.
// Layout (64 bytes):
//   - Bytes 0-3:   Magic number ("NKVB")
//   - Bytes 4-7:   Version (uint32)
//   - Bytes 8-15:  Timestamp (int64, Unix seconds)
//   - Bytes 16-19: Flags (uint32)
//   - Bytes 20-23: PageSize (uint32)
//   - Bytes 24-31: TotalPages (uint64, data file header page included)
//   - Bytes 32-39: LSN (uint64, last WAL record in the pages)
//   - Bytes 40-47: Checksum (uint64, xxhash of the uncompressed pages)
//   - Bytes 48-63: Reserved
type Header struct {
	Magic      [4]byte
	Version    uint32
	Timestamp  int64
	Flags      uint32
	PageSize   uint32
	TotalPages uint64
	LSN        uint64
	Checksum   uint64
}

// Header flags.
const (
	// FlagCompressed marks a zstd compressed page stream.
	FlagCompressed uint32 = 1 << iota
)

// NewHeader creates a header stamped with the current time.
func NewHeader() *Header {
	return &Header{
		Magic:     Magic,
		Version:   Version,
		Timestamp: time.Now().Unix(),
	}
}

// IsCompressed returns true if the page stream is compressed.
func (h *Header) IsCompressed() bool {
	return h.Flags&FlagCompressed != 0
}

// SetCompressed sets the compressed flag.
func (h *Header) SetCompressed(compressed bool) {
	if compressed {
		h.Flags |= FlagCompressed
	} else {
		h.Flags &^= FlagCompressed
	}
}

// Time returns the time the backup was taken.
func (h *Header) Time() time.Time {
	return time.Unix(h.Timestamp, 0)
}

// DataSize returns the size of the uncompressed page stream.
func (h *Header) DataSize() int64 {
	return int64(h.TotalPages) * int64(h.PageSize)
}

// Serialize writes the header to a new byte slice.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.PageSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.TotalPages)
	binary.LittleEndian.PutUint64(buf[32:40], h.LSN)
	binary.LittleEndian.PutUint64(buf[40:48], h.Checksum)
	return buf
}

// Deserialize reads the header from a byte slice.
func (h *Header) Deserialize(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidBackup
	}

	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[8:16]))
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.PageSize = binary.LittleEndian.Uint32(buf[20:24])
	h.TotalPages = binary.LittleEndian.Uint64(buf[24:32])
	h.LSN = binary.LittleEndian.Uint64(buf[32:40])
	h.Checksum = binary.LittleEndian.Uint64(buf[40:48])
	return nil
}

// Validate validates the header.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.Version == 0 || h.Version > Version {
		return ErrUnsupportedFormat
	}
	if h.PageSize == 0 || h.TotalPages == 0 {
		return ErrInvalidBackup
	}
	return nil
}

// readHeader reads and validates the header at the start of r.
func readHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidBackup
		}
		return nil, err
	}

	h := &Header{}
	if err := h.Deserialize(buf); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Stats contains statistics about a backup or restore.
type Stats struct {
	// Pages is the number of data file pages copied.
	Pages uint64

	// DataBytes is the size of the uncompressed pages.
	DataBytes int64

	// FileBytes is the size of the backup file, header included.
	FileBytes int64

	// LSN is the last WAL record reflected in the pages.
	LSN uint64

	// Duration is the time taken to complete the operation.
	Duration time.Duration
}

// CompressionRatio returns the fraction of space saved (0-1).
// Returns 0 when nothing was saved or no data was written.
func (s *Stats) CompressionRatio() float64 {
	if s.DataBytes == 0 || s.FileBytes == 0 || s.FileBytes >= s.DataBytes {
		return 0
	}
	return 1.0 - float64(s.FileBytes)/float64(s.DataBytes)
}

// checksumWriter wraps an io.Writer and hashes what passes through it.
type checksumWriter struct {
	w       io.Writer
	digest  *xxhash.Digest
	written int64
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, digest: xxhash.New()}
}

// Write writes data and updates the checksum.
func (cw *checksumWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 {
		cw.digest.Write(p[:n])
		cw.written += int64(n)
	}
	return n, err
}

// Checksum returns the current checksum.
func (cw *checksumWriter) Checksum() uint64 {
	return cw.digest.Sum64()
}

// Written returns the total bytes written.
func (cw *checksumWriter) Written() int64 {
	return cw.written
}
