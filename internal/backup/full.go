package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
)

// Create writes a full backup of db to opts.OutputPath. The database is
// checkpointed first and stays blocked for the time it takes to copy the
// data file, so the backup never needs the WAL.
func Create(ctx context.Context, db *engine.DB, opts Options) (*Stats, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	tmpPath := opts.OutputPath + ".tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	ok := false
	defer func() {
		if !ok {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	stats, err := writeBackup(ctx, db, out, opts.Compress)
	if err != nil {
		return nil, err
	}

	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := os.Rename(tmpPath, opts.OutputPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	ok = true

	stats.Duration = time.Since(start)
	return stats, nil
}

// writeBackup writes the header placeholder and the page stream, then goes
// back and fills in the header.
func writeBackup(ctx context.Context, db *engine.DB, out io.WriteSeeker, compress bool) (*Stats, error) {
	header := NewHeader()
	header.SetCompressed(compress)

	if _, err := out.Write(header.Serialize()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	counter := &countingWriter{w: out}
	stats := &Stats{}

	err := db.Snapshot(ctx, func(r io.Reader, info engine.SnapshotInfo) error {
		header.PageSize = uint32(info.PageSize)
		header.TotalPages = info.Pages
		header.LSN = info.LSN
		header.Timestamp = info.Taken.Unix()

		var (
			body io.Writer = counter
			enc  *zstd.Encoder
		)
		if compress {
			var err error
			enc, err = zstd.NewWriter(counter, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return err
			}
			body = enc
		}

		cw := newChecksumWriter(body)
		if _, err := io.Copy(cw, r); err != nil {
			if enc != nil {
				enc.Close()
			}
			return err
		}
		if enc != nil {
			if err := enc.Close(); err != nil {
				return err
			}
		}
		if cw.Written() != header.DataSize() {
			return fmt.Errorf("copied %d bytes, expected %d", cw.Written(), header.DataSize())
		}

		header.Checksum = cw.Checksum()
		stats.Pages = info.Pages
		stats.DataBytes = cw.Written()
		stats.LSN = info.LSN
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if _, err := out.Write(header.Serialize()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	stats.FileBytes = HeaderSize + counter.n
	return stats, nil
}

// countingWriter counts the bytes that reach the backup file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
