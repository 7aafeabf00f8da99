package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
)

// Restore recreates the database in opts.DataDir from a backup file. The
// pages are checked against the backup checksum before the data file is
// replaced. Any WAL in the directory is removed. The database must not be
// open while it is restored.
func Restore(opts RestoreOptions) (*Stats, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	in, err := os.Open(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	defer in.Close()

	header, err := readHeader(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if header.PageSize != storage.PageSize {
		return nil, fmt.Errorf("%w: %w: page size %d", ErrRestoreFailed, ErrUnsupportedFormat, header.PageSize)
	}

	dataPath := filepath.Join(opts.DataDir, engine.DataFileName)
	if _, err := os.Stat(dataPath); err == nil && !opts.Force {
		return nil, fmt.Errorf("%w: %w: %s", ErrRestoreFailed, ErrDataExists, opts.DataDir)
	}

	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %v", ErrRestoreFailed, err)
	}

	tmpPath := dataPath + ".restore"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create data file: %v", ErrRestoreFailed, err)
	}
	ok := false
	defer func() {
		if !ok {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := copyPages(out, in, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	if err := checkDataFile(out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("%w: failed to sync: %v", ErrRestoreFailed, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	ok = true

	// Records left in an old WAL belong to the replaced data file.
	walPath := filepath.Join(opts.DataDir, engine.WALFileName)
	if err := os.Remove(walPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to remove WAL: %v", ErrRestoreFailed, err)
	}

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	return &Stats{
		Pages:     header.TotalPages,
		DataBytes: header.DataSize(),
		FileBytes: info.Size(),
		LSN:       header.LSN,
		Duration:  time.Since(start),
	}, nil
}

// Inspect reads and validates the header of a backup file.
func Inspect(path string) (*Header, error) {
	if path == "" {
		return nil, ErrInputPathEmpty
	}
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	return readHeader(in)
}

// Verify reads a whole backup file and checks its pages against the
// checksum in the header.
func Verify(path string) (*Header, error) {
	if path == "" {
		return nil, ErrInputPathEmpty
	}
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	header, err := readHeader(in)
	if err != nil {
		return nil, err
	}
	if err := copyPages(io.Discard, in, header); err != nil {
		return nil, err
	}
	return header, nil
}

// copyPages copies the page stream following the header into w and checks
// its length and checksum.
func copyPages(w io.Writer, in io.Reader, header *Header) error {
	body := in
	if header.IsCompressed() {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return err
		}
		defer dec.Close()
		body = dec
	}

	cw := newChecksumWriter(w)
	n, err := io.CopyN(cw, body, header.DataSize())
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %d of %d bytes", ErrBackupTruncated, n, header.DataSize())
		}
		if header.IsCompressed() {
			return fmt.Errorf("%w: %v", ErrBackupCorrupted, err)
		}
		return err
	}
	if cw.Checksum() != header.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// checkDataFile makes sure the restored pages start with a valid data file
// header.
func checkDataFile(f io.ReaderAt) error {
	buf := make([]byte, storage.FileHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return err
	}
	if !storage.IsDataFile(buf) {
		return fmt.Errorf("%w: pages do not hold a nestkv data file", ErrInvalidBackup)
	}
	fh := &storage.FileHeader{}
	if err := fh.DeserializeAndValidate(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return nil
}
