package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Overflow page layout (inside Page.Data):
//   - Bytes 0-7:   next overflow page (0 for the last page)
//   - Bytes 8-9:   payload bytes used on this page
//   - Bytes 10-:   payload
const (
	overflowHeaderSize = 10

	// ChunkSize is the payload capacity of one overflow page.
	ChunkSize = storage.PageDataSize - overflowHeaderSize
)

// Options controls how overflow values are written.
type Options struct {
	// Compression is applied to overflow values of at least CompressMinSize
	// bytes, and kept only when it makes the value smaller.
	Compression     Codec
	CompressMinSize int
}

// DefaultOptions returns uncompressed blob options.
func DefaultOptions() Options {
	return Options{
		Compression:     CodecNone,
		CompressMinSize: 1024,
	}
}

func chunksFor(n uint64) uint64 {
	return (n + ChunkSize - 1) / ChunkSize
}

// Write stores value and returns a reference to it.
func Write(p storage.Pager, value []byte, opts Options) (Ref, error) {
	if len(value) <= InlineCapacity {
		return Ref{inline: append([]byte(nil), value...)}, nil
	}

	stored, codec := value, CodecNone
	if opts.Compression != CodecNone && len(value) >= opts.CompressMinSize {
		compressed, err := compress(value, opts.Compression)
		if err != nil {
			return Ref{}, err
		}
		if len(compressed) < len(value) {
			stored, codec = compressed, opts.Compression
		}
	}

	n := int(chunksFor(uint64(len(stored))))
	ids := make([]storage.PageID, 0, n)
	for range n {
		id, err := p.AllocatePage(storage.PageTypeOverflow)
		if err != nil {
			return Ref{}, errors.Join(err, freePages(p, ids))
		}
		ids = append(ids, id)
	}

	for i, id := range ids {
		chunk := stored[i*ChunkSize : min((i+1)*ChunkSize, len(stored))]

		page := storage.NewPage(id, storage.PageTypeOverflow)
		var next storage.PageID
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		binary.LittleEndian.PutUint64(page.Data[0:8], uint64(next))
		binary.LittleEndian.PutUint16(page.Data[8:10], uint16(len(chunk)))
		copy(page.Data[overflowHeaderSize:], chunk)
		page.Header.ItemCount = 1
		page.Header.FreeSpace = uint16(ChunkSize - len(chunk))

		if err := p.WritePage(page); err != nil {
			return Ref{}, errors.Join(err, freePages(p, ids))
		}
	}

	return Ref{
		overflow:  true,
		codec:     codec,
		rawLen:    uint64(len(value)),
		storedLen: uint64(len(stored)),
		first:     ids[0],
		sum:       xxhash.Sum64(value),
		pages:     uint32(n),
	}, nil
}

func freePages(p storage.Pager, ids []storage.PageID) error {
	var errs []error
	for _, id := range ids {
		if err := p.FreePage(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Read returns the whole value.
func (r Ref) Read(p storage.Pager) ([]byte, error) {
	if !r.overflow {
		return append([]byte(nil), r.inline...), nil
	}

	stored, err := r.readStored(p, 0, r.storedLen)
	if err != nil {
		return nil, err
	}

	value, err := decompress(stored, r.codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	if uint64(len(value)) != r.rawLen || xxhash.Sum64(value) != r.sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptBlob)
	}
	return value, nil
}

// ReadAt returns up to n bytes of the value starting at offset. Reading past
// the end returns the available bytes; an offset at or past the end returns
// an empty slice. Uncompressed values only touch the pages covering the range.
func (r Ref) ReadAt(p storage.Pager, offset, n int64) ([]byte, error) {
	if offset < 0 || n < 0 {
		return nil, ErrInvalidRange
	}

	size := r.ValueSize()
	if offset >= size || n == 0 {
		return []byte{}, nil
	}
	n = min(n, size-offset)

	switch {
	case !r.overflow:
		return append([]byte(nil), r.inline[offset:offset+n]...), nil
	case r.codec == CodecNone:
		return r.readStored(p, uint64(offset), uint64(n))
	default:
		value, err := r.Read(p)
		if err != nil {
			return nil, err
		}
		return value[offset : offset+n], nil
	}
}

// readStored walks the chain and copies n stored bytes starting at offset.
func (r Ref) readStored(p storage.Pager, offset, n uint64) ([]byte, error) {
	out := make([]byte, 0, n)
	end := offset + n

	id := r.first
	for i := uint64(0); i < uint64(r.pages) && uint64(len(out)) < n; i++ {
		page, err := readOverflowPage(p, id)
		if err != nil {
			return nil, err
		}

		used := uint64(binary.LittleEndian.Uint16(page.Data[8:10]))
		start := i * ChunkSize
		if used > ChunkSize || (i+1 < uint64(r.pages) && used != ChunkSize) {
			return nil, fmt.Errorf("%w: bad chunk length on page %d", ErrCorruptBlob, id)
		}

		if lo, hi := max(offset, start), min(end, start+used); lo < hi {
			out = append(out, page.Data[overflowHeaderSize+lo-start:overflowHeaderSize+hi-start]...)
		}
		id = storage.PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
	}

	if uint64(len(out)) != n {
		return nil, fmt.Errorf("%w: chain ended early", ErrCorruptBlob)
	}
	return out, nil
}

func readOverflowPage(p storage.Pager, id storage.PageID) (*storage.Page, error) {
	if id == storage.InvalidPageID {
		return nil, fmt.Errorf("%w: broken overflow chain", ErrCorruptBlob)
	}
	page, err := p.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if page.Header.PageType != storage.PageTypeOverflow {
		return nil, fmt.Errorf("%w: page %d is %s", ErrCorruptBlob, id, page.Header.PageType)
	}
	return page, nil
}

// Clear frees every overflow page of the value. Inline values own no pages.
func Clear(p storage.Pager, r Ref) error {
	if !r.overflow {
		return nil
	}

	ids := make([]storage.PageID, 0, r.pages)
	id := r.first
	for range r.pages {
		page, err := readOverflowPage(p, id)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		id = storage.PageID(binary.LittleEndian.Uint64(page.Data[0:8]))
	}

	return freePages(p, ids)
}
