package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// openTestWAL opens a WAL inside a temp dir.
func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wal.log")
	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL() error = %v", err)
	}
	return wal, path
}

// =============================================================================
// WALRecord Tests
// =============================================================================

func TestWALTypeString(t *testing.T) {
	tests := []struct {
		typ  WALType
		want string
	}{
		{WALBegin, "Begin"},
		{WALCommit, "Commit"},
		{WALAbort, "Abort"},
		{WALUpdate, "Update"},
		{WALAllocate, "Allocate"},
		{WALFree, "Free"},
		{WALCheckpoint, "Checkpoint"},
		{WALType(200), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("WALType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestWALRecordSerializeDeserialize(t *testing.T) {
	page := NewPage(12, PageTypeBTree)
	copy(page.Data, []byte("image"))

	update, err := NewWALUpdateRecord(7, page)
	if err != nil {
		t.Fatalf("NewWALUpdateRecord() error = %v", err)
	}

	tests := []struct {
		name   string
		record *WALRecord
	}{
		{"begin", NewWALRecord(7, WALBegin)},
		{"allocate", NewWALPageRecord(7, WALAllocate, 12)},
		{"update", update},
		{"commit", NewWALRecord(7, WALCommit)},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.record.LSN = uint64(100 + i)

			buf, err := tt.record.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if len(buf) != tt.record.Size() {
				t.Errorf("len(buf) = %d, want %d", len(buf), tt.record.Size())
			}

			decoded := &WALRecord{}
			if err := decoded.DeserializeAndValidate(buf); err != nil {
				t.Fatalf("DeserializeAndValidate() error = %v", err)
			}
			if decoded.LSN != tt.record.LSN || decoded.TxID != 7 || decoded.Type != tt.record.Type || decoded.PageID != tt.record.PageID {
				t.Errorf("decoded = %+v, want %+v", decoded, tt.record)
			}
			if !bytes.Equal(decoded.Data, tt.record.Data) {
				t.Error("data mismatch")
			}
		})
	}
}

func TestWALRecordPageImage(t *testing.T) {
	page := NewPage(3, PageTypeOverflow)
	copy(page.Data, []byte("overflow bytes"))

	record, err := NewWALUpdateRecord(1, page)
	if err != nil {
		t.Fatalf("NewWALUpdateRecord() error = %v", err)
	}

	decoded, err := record.Page()
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if decoded.Header.PageID != 3 || !bytes.Equal(decoded.Data, page.Data) {
		t.Error("page image mismatch")
	}

	if _, err := NewWALRecord(1, WALCommit).Page(); !errors.Is(err, ErrWALInvalidRecordType) {
		t.Errorf("Page() on commit record error = %v, want ErrWALInvalidRecordType", err)
	}
}

func TestWALRecordChecksum(t *testing.T) {
	record := NewWALPageRecord(9, WALFree, 44)
	record.LSN = 5

	buf, err := record.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	buf[20] ^= 0xFF

	decoded := &WALRecord{}
	if err := decoded.DeserializeAndValidate(buf); !errors.Is(err, ErrWALRecordChecksum) {
		t.Errorf("DeserializeAndValidate() error = %v, want ErrWALRecordChecksum", err)
	}
}

func TestWALRecordErrors(t *testing.T) {
	record := NewWALRecord(1, WALBegin)
	if err := record.SerializeTo(make([]byte, 5)); !errors.Is(err, ErrWALRecordTooSmall) {
		t.Errorf("SerializeTo() error = %v, want ErrWALRecordTooSmall", err)
	}

	big := &WALRecord{Type: WALUpdate, Data: make([]byte, MaxWALDataSize+1)}
	if _, err := big.Serialize(); !errors.Is(err, ErrWALDataTooLarge) {
		t.Errorf("Serialize() error = %v, want ErrWALDataTooLarge", err)
	}

	if err := (&WALRecord{}).Deserialize(make([]byte, 3)); !errors.Is(err, ErrWALRecordTooSmall) {
		t.Errorf("Deserialize() error = %v, want ErrWALRecordTooSmall", err)
	}

	if !NewWALRecord(1, WALAbort).IsTransactionControl() {
		t.Error("abort should be a transaction control record")
	}
	if NewWALPageRecord(1, WALFree, 2).IsTransactionControl() {
		t.Error("free should not be a transaction control record")
	}
}

// =============================================================================
// WAL Tests
// =============================================================================

func TestWALAppendAndIterate(t *testing.T) {
	wal, _ := openTestWAL(t)
	defer wal.Close()

	var lsns []uint64
	for i := 0; i < 10; i++ {
		lsn, err := wal.Append(NewWALPageRecord(uint64(i), WALAllocate, PageID(i+2)))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		lsns = append(lsns, lsn)
	}

	for i := 1; i < len(lsns); i++ {
		if lsns[i] != lsns[i-1]+1 {
			t.Fatalf("LSNs not consecutive: %v", lsns)
		}
	}

	it := wal.Iterator(lsns[4])
	count := 0
	for it.Next() {
		record := it.Record()
		if record.LSN != lsns[4+count] {
			t.Errorf("record %d LSN = %d, want %d", count, record.LSN, lsns[4+count])
		}
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
	}
	if count != 6 {
		t.Errorf("iterated %d records, want 6", count)
	}
}

func TestWALReopenContinuesLSN(t *testing.T) {
	wal, path := openTestWAL(t)

	for i := 0; i < 5; i++ {
		wal.Append(NewWALRecord(1, WALBegin))
	}
	next := wal.CurrentLSN()
	if err := wal.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL() error = %v", err)
	}
	defer wal.Close()

	if wal.CurrentLSN() != next {
		t.Errorf("CurrentLSN() = %d, want %d", wal.CurrentLSN(), next)
	}
}

func TestWALTruncatesTornTail(t *testing.T) {
	wal, path := openTestWAL(t)

	for i := 0; i < 3; i++ {
		wal.Append(NewWALRecord(uint64(i+1), WALBegin))
	}
	wal.Sync()
	goodSize := wal.Size()
	wal.Close()

	// Simulate a crash in the middle of writing a record.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	f.Write([]byte{60, 0, 0, 0, 1, 2, 3})
	f.Close()

	wal, err = OpenWAL(path)
	if err != nil {
		t.Fatalf("OpenWAL() error = %v", err)
	}
	defer wal.Close()

	if wal.Size() != goodSize {
		t.Errorf("Size() = %d, want %d after truncating the torn tail", wal.Size(), goodSize)
	}

	count := 0
	it := wal.Iterator(0)
	for it.Next() {
		count++
	}
	if count != 3 {
		t.Errorf("recovered %d records, want 3", count)
	}
}

func TestWALResetKeepsLSNMonotonic(t *testing.T) {
	wal, _ := openTestWAL(t)
	defer wal.Close()

	for i := 0; i < 4; i++ {
		wal.Append(NewWALRecord(1, WALBegin))
	}
	before := wal.CurrentLSN()

	if err := wal.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if wal.Size() != 0 {
		t.Errorf("Size() after Reset = %d, want 0", wal.Size())
	}

	lsn, err := wal.Append(NewWALRecord(2, WALBegin))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if lsn != before {
		t.Errorf("LSN after Reset = %d, want %d", lsn, before)
	}

	wal.SetNextLSN(1000)
	if wal.CurrentLSN() != 1000 {
		t.Errorf("CurrentLSN() = %d, want 1000", wal.CurrentLSN())
	}
	wal.SetNextLSN(10)
	if wal.CurrentLSN() != 1000 {
		t.Error("SetNextLSN() must never lower the LSN")
	}
}

func TestWALClosed(t *testing.T) {
	wal, _ := openTestWAL(t)
	wal.Close()

	if _, err := wal.Append(NewWALRecord(1, WALBegin)); !errors.Is(err, ErrWALClosed) {
		t.Errorf("Append() error = %v, want ErrWALClosed", err)
	}
	if err := wal.Sync(); !errors.Is(err, ErrWALClosed) {
		t.Errorf("Sync() error = %v, want ErrWALClosed", err)
	}
	if err := wal.Reset(); !errors.Is(err, ErrWALClosed) {
		t.Errorf("Reset() error = %v, want ErrWALClosed", err)
	}
	if it := wal.Iterator(0); it.Next() || !errors.Is(it.Err(), ErrWALClosed) {
		t.Errorf("Iterator() on closed WAL err = %v", it.Err())
	}
	if err := wal.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWALLargeRecordsFlushBuffer(t *testing.T) {
	wal, _ := openTestWAL(t)
	defer wal.Close()

	// Each full page image is ~4KB, so this spills the 64KB buffer.
	for i := 0; i < 40; i++ {
		page := NewPage(PageID(i+2), PageTypeBTree)
		page.Data[0] = byte(i)
		record, err := NewWALUpdateRecord(1, page)
		if err != nil {
			t.Fatalf("NewWALUpdateRecord() error = %v", err)
		}
		if _, err := wal.Append(record); err != nil {
			t.Fatalf("Append() %d error = %v", i, err)
		}
	}

	it := wal.Iterator(0)
	i := 0
	for it.Next() {
		page, err := it.Record().Page()
		if err != nil {
			t.Fatalf("record %d Page() error = %v", i, err)
		}
		if page.Data[0] != byte(i) {
			t.Errorf("record %d holds image %d", i, page.Data[0])
		}
		i++
	}
	if i != 40 {
		t.Errorf("iterated %d records, want 40", i)
	}
}
