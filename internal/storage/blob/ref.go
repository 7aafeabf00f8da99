// Package blob stores variable-length values behind fixed-size references.
//
// Short values live inside the reference itself. Longer values are written
// to a chain of overflow pages and the reference records where the chain
// starts, how long the value is and an xxhash of its contents.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

const (
	// RefSize is the encoded size of every reference.
	RefSize = 64

	// InlineCapacity is the largest value stored inside the reference.
	InlineCapacity = RefSize - 2

	flagOverflow = 0x01
	codecShift   = 4
	codecMask    = 0x30
)

// Errors for blob operations.
var (
	ErrInvalidRef   = errors.New("invalid blob reference")
	ErrCorruptBlob  = errors.New("blob data is corrupt")
	ErrInvalidRange = errors.New("invalid blob read range")
)

// Ref is a fixed-size handle to a stored value.
//
// Encoding (RefSize bytes):
//   - Byte 0:      flags (bit 0 overflow, bits 4-5 codec)
//
// Inline:
//   - Byte 1:      value length
//   - Bytes 2-63:  value bytes, zero padded
//
// Overflow:
//   - Bytes 1-8:   raw value length (uint64)
//   - Bytes 9-16:  stored (possibly compressed) length (uint64)
//   - Bytes 17-24: first overflow page (PageID)
//   - Bytes 25-32: xxhash64 of the raw value
//   - Bytes 33-36: overflow page count (uint32)
type Ref struct {
	overflow  bool
	codec     Codec
	inline    []byte
	rawLen    uint64
	storedLen uint64
	first     storage.PageID
	sum       uint64
	pages     uint32
}

// Encode returns the RefSize-byte encoding of the reference.
func (r Ref) Encode() []byte {
	buf := make([]byte, RefSize)

	if !r.overflow {
		buf[1] = byte(len(r.inline))
		copy(buf[2:], r.inline)
		return buf
	}

	buf[0] = flagOverflow | byte(r.codec)<<codecShift
	binary.LittleEndian.PutUint64(buf[1:9], r.rawLen)
	binary.LittleEndian.PutUint64(buf[9:17], r.storedLen)
	binary.LittleEndian.PutUint64(buf[17:25], uint64(r.first))
	binary.LittleEndian.PutUint64(buf[25:33], r.sum)
	binary.LittleEndian.PutUint32(buf[33:37], r.pages)
	return buf
}

// DecodeRef parses an encoded reference. The result does not alias buf.
func DecodeRef(buf []byte) (Ref, error) {
	if len(buf) != RefSize {
		return Ref{}, fmt.Errorf("%w: length %d", ErrInvalidRef, len(buf))
	}

	flags := buf[0]
	if flags&^(flagOverflow|codecMask) != 0 {
		return Ref{}, fmt.Errorf("%w: flags %#x", ErrInvalidRef, flags)
	}

	if flags&flagOverflow == 0 {
		n := int(buf[1])
		if n > InlineCapacity || flags != 0 {
			return Ref{}, fmt.Errorf("%w: inline length %d", ErrInvalidRef, n)
		}
		return Ref{inline: append([]byte(nil), buf[2:2+n]...)}, nil
	}

	r := Ref{
		overflow:  true,
		codec:     Codec((flags & codecMask) >> codecShift),
		rawLen:    binary.LittleEndian.Uint64(buf[1:9]),
		storedLen: binary.LittleEndian.Uint64(buf[9:17]),
		first:     storage.PageID(binary.LittleEndian.Uint64(buf[17:25])),
		sum:       binary.LittleEndian.Uint64(buf[25:33]),
		pages:     binary.LittleEndian.Uint32(buf[33:37]),
	}
	if r.codec > CodecZstd || r.first == storage.InvalidPageID ||
		uint64(r.pages) != chunksFor(r.storedLen) {
		return Ref{}, fmt.Errorf("%w: overflow header", ErrInvalidRef)
	}
	return r, nil
}

// ValueSize returns the length of the stored value in bytes.
func (r Ref) ValueSize() int64 {
	if r.overflow {
		return int64(r.rawLen)
	}
	return int64(len(r.inline))
}

// IsInline reports whether the value is stored inside the reference.
func (r Ref) IsInline() bool {
	return !r.overflow
}

// Codec returns the compression codec of an overflow value.
func (r Ref) Codec() Codec {
	return r.codec
}

// Pages returns the number of overflow pages the value occupies.
func (r Ref) Pages() int {
	return int(r.pages)
}
