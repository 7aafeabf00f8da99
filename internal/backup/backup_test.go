package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
	"github.com/KilimcininKorOglu/nestkv/internal/storage/engine"
)

func testOptions() engine.Options {
	return engine.DefaultOptions().WithCheckpointInterval(0).WithCheckpointWALBytes(0)
}

// openTestDB opens a database and fills it with a few hashes, one of them
// large enough to live in nested pages.
func openTestDB(t *testing.T, dir string) *engine.DB {
	t.Helper()
	db, err := engine.Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = db.Update(context.Background(), func(tx *engine.Tx) error {
		ks := tx.Keyspace()
		for i := 0; i < 10; i++ {
			if _, err := ks.HSet("user:1", fmt.Sprintf("field%d", i), fmt.Sprintf("value%d", i)); err != nil {
				return err
			}
		}
		for i := 0; i < 500; i++ {
			if _, err := ks.HSet("big", fmt.Sprintf("f%04d", i), string(bytes.Repeat([]byte{'x'}, 100))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to write test data: %v", err)
	}
	return db
}

// =============================================================================
// Options
// =============================================================================

// TestOptions tests the Options validation.
func TestOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"valid", Options{OutputPath: "/tmp/backup.nkvb"}, nil},
		{"compressed", Options{OutputPath: "/tmp/backup.nkvb", Compress: true}, nil},
		{"empty output path", Options{}, ErrOutputPathEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestRestoreOptions tests the RestoreOptions validation.
func TestRestoreOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    RestoreOptions
		wantErr error
	}{
		{"valid", RestoreOptions{InputPath: "/tmp/backup.nkvb", DataDir: "/tmp/data"}, nil},
		{"empty input path", RestoreOptions{DataDir: "/tmp/data"}, ErrInputPathEmpty},
		{"empty data dir", RestoreOptions{InputPath: "/tmp/backup.nkvb"}, ErrDataDirEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Header
// =============================================================================

// TestHeader tests the Header serialization and validation.
func TestHeader(t *testing.T) {
	t.Run("serialize and deserialize", func(t *testing.T) {
		original := NewHeader()
		original.PageSize = storage.PageSize
		original.TotalPages = 100
		original.LSN = 42
		original.Checksum = 0xDEADBEEFCAFE
		original.SetCompressed(true)

		buf := original.Serialize()
		if len(buf) != HeaderSize {
			t.Fatalf("Serialize() length = %d, want %d", len(buf), HeaderSize)
		}

		restored := &Header{}
		if err := restored.Deserialize(buf); err != nil {
			t.Fatalf("Deserialize() error = %v", err)
		}
		if *restored != *original {
			t.Errorf("Deserialize() = %+v, want %+v", restored, original)
		}
		if err := restored.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
		if !restored.IsCompressed() {
			t.Error("IsCompressed() = false")
		}
		if restored.DataSize() != 100*storage.PageSize {
			t.Errorf("DataSize() = %d", restored.DataSize())
		}
	})

	t.Run("flags", func(t *testing.T) {
		h := NewHeader()
		if h.IsCompressed() {
			t.Error("new header is compressed")
		}
		h.SetCompressed(true)
		h.SetCompressed(false)
		if h.Flags != 0 {
			t.Errorf("Flags = %d after clearing", h.Flags)
		}
	})

	t.Run("short buffer", func(t *testing.T) {
		h := &Header{}
		if err := h.Deserialize(make([]byte, HeaderSize-1)); !errors.Is(err, ErrInvalidBackup) {
			t.Errorf("Deserialize() error = %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name    string
			modify  func(h *Header)
			wantErr error
		}{
			{"bad magic", func(h *Header) { h.Magic = [4]byte{'N', 'K', 'V', 0} }, ErrInvalidMagic},
			{"version zero", func(h *Header) { h.Version = 0 }, ErrUnsupportedFormat},
			{"future version", func(h *Header) { h.Version = Version + 1 }, ErrUnsupportedFormat},
			{"no pages", func(h *Header) { h.TotalPages = 0 }, ErrInvalidBackup},
			{"no page size", func(h *Header) { h.PageSize = 0 }, ErrInvalidBackup},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := NewHeader()
				h.PageSize = storage.PageSize
				h.TotalPages = 4
				tt.modify(h)
				if err := h.Validate(); !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("timestamp", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		h := NewHeader()
		if h.Time().Before(before) || h.Time().After(time.Now().Add(time.Second)) {
			t.Errorf("Time() = %v", h.Time())
		}
	})
}

// TestStats tests the compression ratio.
func TestStats(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{"empty", Stats{}, 0},
		{"half", Stats{DataBytes: 1000, FileBytes: 500}, 0.5},
		{"grew", Stats{DataBytes: 1000, FileBytes: 1064}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.CompressionRatio(); got != tt.want {
				t.Errorf("CompressionRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestChecksumWriter tests that the checksum tracks written bytes.
func TestChecksumWriter(t *testing.T) {
	var a, b bytes.Buffer
	cw1 := newChecksumWriter(&a)
	cw2 := newChecksumWriter(&b)

	cw1.Write([]byte("hello "))
	cw1.Write([]byte("world"))
	cw2.Write([]byte("hello world"))

	if cw1.Checksum() != cw2.Checksum() {
		t.Error("checksum depends on write boundaries")
	}
	if cw1.Written() != 11 || a.String() != "hello world" {
		t.Errorf("Written() = %d, buffer = %q", cw1.Written(), a.String())
	}

	cw2.Write([]byte("!"))
	if cw1.Checksum() == cw2.Checksum() {
		t.Error("checksum did not change")
	}
}

// =============================================================================
// Create
// =============================================================================

// TestCreate tests full backups with and without compression.
func TestCreate(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	dir := t.TempDir()

	plainPath := filepath.Join(dir, "plain"+FileExtension)
	plain, err := Create(context.Background(), db, Options{OutputPath: plainPath})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stats, err := db.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if plain.Pages != stats.Pages.TotalPages {
		t.Errorf("Pages = %d, want %d", plain.Pages, stats.Pages.TotalPages)
	}
	if plain.DataBytes != int64(plain.Pages)*storage.PageSize {
		t.Errorf("DataBytes = %d", plain.DataBytes)
	}
	if plain.FileBytes != HeaderSize+plain.DataBytes {
		t.Errorf("FileBytes = %d, want %d", plain.FileBytes, HeaderSize+plain.DataBytes)
	}
	if plain.LSN == 0 {
		t.Error("LSN = 0")
	}

	info, err := os.Stat(plainPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != plain.FileBytes {
		t.Errorf("file size = %d, want %d", info.Size(), plain.FileBytes)
	}
	if _, err := os.Stat(plainPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	zstdPath := filepath.Join(dir, "zstd"+FileExtension)
	compressed, err := Create(context.Background(), db, Options{OutputPath: zstdPath, Compress: true})
	if err != nil {
		t.Fatalf("Create(compressed) error = %v", err)
	}
	if compressed.FileBytes >= plain.FileBytes {
		t.Errorf("compressed backup is %d bytes, plain is %d", compressed.FileBytes, plain.FileBytes)
	}
	if compressed.CompressionRatio() <= 0 {
		t.Errorf("CompressionRatio() = %v", compressed.CompressionRatio())
	}

	for _, path := range []string{plainPath, zstdPath} {
		h, err := Verify(path)
		if err != nil {
			t.Errorf("Verify(%s) error = %v", filepath.Base(path), err)
			continue
		}
		if h.TotalPages != plain.Pages {
			t.Errorf("Verify(%s) pages = %d", filepath.Base(path), h.TotalPages)
		}
		if h.IsCompressed() != (path == zstdPath) {
			t.Errorf("Verify(%s) compressed = %v", filepath.Base(path), h.IsCompressed())
		}
	}
}

// TestCreateErrors tests argument and output errors.
func TestCreateErrors(t *testing.T) {
	if _, err := Create(context.Background(), nil, Options{OutputPath: "x"}); !errors.Is(err, ErrNilDatabase) {
		t.Errorf("nil database: error = %v", err)
	}

	db := openTestDB(t, t.TempDir())
	if _, err := Create(context.Background(), db, Options{}); !errors.Is(err, ErrOutputPathEmpty) {
		t.Errorf("empty path: error = %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing", "backup.nkvb")
	if _, err := Create(context.Background(), db, Options{OutputPath: missing}); !errors.Is(err, ErrBackupFailed) {
		t.Errorf("missing directory: error = %v", err)
	}

	db.Close()
	path := filepath.Join(t.TempDir(), "closed.nkvb")
	if _, err := Create(context.Background(), db, Options{OutputPath: path}); !errors.Is(err, ErrBackupFailed) {
		t.Errorf("closed database: error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed backup left a file behind")
	}
}

// TestInspect tests reading only the header.
func TestInspect(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "backup.nkvb")
	stats, err := Create(context.Background(), db, Options{OutputPath: path, Compress: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	h, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if h.TotalPages != stats.Pages || h.LSN != stats.LSN || !h.IsCompressed() {
		t.Errorf("Inspect() = %+v, stats = %+v", h, stats)
	}

	if _, err := Inspect(""); !errors.Is(err, ErrInputPathEmpty) {
		t.Errorf("Inspect(\"\") error = %v", err)
	}

	notBackup := filepath.Join(t.TempDir(), "data.nkv")
	os.WriteFile(notBackup, bytes.Repeat([]byte{1}, HeaderSize), 0644)
	if _, err := Inspect(notBackup); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Inspect(not a backup) error = %v", err)
	}

	short := filepath.Join(t.TempDir(), "short.nkvb")
	os.WriteFile(short, Magic[:], 0644)
	if _, err := Inspect(short); !errors.Is(err, ErrInvalidBackup) {
		t.Errorf("Inspect(short) error = %v", err)
	}
}
