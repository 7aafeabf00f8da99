// Package storage provides the page-level storage substrate for nestkv.
package storage

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// PageSize is the page size in bytes.
const PageSize = 4096

// PageHeaderSize is the size of the page header in bytes.
const PageHeaderSize = 16

// PageDataSize is the number of bytes available after the page header.
const PageDataSize = PageSize - PageHeaderSize

// PageType represents the type of a page in the database.
type PageType uint8

const (
	// PageTypeFree indicates a free/unused page.
	PageTypeFree PageType = iota
	// PageTypeBTree indicates a B+ tree node page.
	PageTypeBTree
	// PageTypeOverflow indicates a blob overflow page.
	PageTypeOverflow
	// PageTypeCatalog indicates the catalog page holding tree roots.
	PageTypeCatalog
	// PageTypeFreeList indicates a page of the persisted free list chain.
	PageTypeFreeList
)

// String returns the string representation of a PageType.
func (pt PageType) String() string {
	switch pt {
	case PageTypeFree:
		return "Free"
	case PageTypeBTree:
		return "BTree"
	case PageTypeOverflow:
		return "Overflow"
	case PageTypeCatalog:
		return "Catalog"
	case PageTypeFreeList:
		return "FreeList"
	default:
		return "Unknown"
	}
}

// PageFlag represents flags for a page.
type PageFlag uint8

const (
	// PageFlagDirty indicates the page has been modified.
	PageFlagDirty PageFlag = 1 << iota
	// PageFlagLeaf indicates the page is a leaf node (for tree structures).
	PageFlagLeaf
)

// PageID represents a unique identifier for a page.
type PageID uint64

// InvalidPageID is the sentinel "no page" value. Page 0 always holds the
// file header, so it is never a valid target for a tree or blob reference.
const InvalidPageID PageID = 0

// PageHeader represents the header of each page (first 16 bytes).
// Layout:
//   - Bytes 0-7:   PageID (uint64)
//   - Byte 8:      PageType (uint8)
//   - Byte 9:      Flags (uint8)
//   - Bytes 10-11: ItemCount (uint16)
//   - Bytes 12-13: FreeSpace (uint16)
//   - Bytes 14-15: Checksum (uint16)
type PageHeader struct {
	PageID    PageID   // This page's ID
	PageType  PageType // BTree, Overflow, Free, ...
	Flags     PageFlag // Dirty, Leaf
	ItemCount uint16   // Number of items in page
	FreeSpace uint16   // Bytes of free space
	Checksum  uint16   // Truncated xxhash of page content
}

// Errors for page operations.
var (
	ErrInvalidPageSize     = errors.New("invalid page size")
	ErrInvalidChecksum     = errors.New("page checksum mismatch")
	ErrInvalidPageType     = errors.New("invalid page type")
	ErrPageHeaderCorrupted = errors.New("page header corrupted")
)

// Serialize writes the PageHeader to a byte slice.
// The slice must be at least PageHeaderSize bytes.
func (h *PageHeader) Serialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.PageID))
	buf[8] = byte(h.PageType)
	buf[9] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.ItemCount)
	binary.LittleEndian.PutUint16(buf[12:14], h.FreeSpace)
	binary.LittleEndian.PutUint16(buf[14:16], h.Checksum)

	return nil
}

// Deserialize reads the PageHeader from a byte slice.
// The slice must be at least PageHeaderSize bytes.
func (h *PageHeader) Deserialize(buf []byte) error {
	if len(buf) < PageHeaderSize {
		return ErrInvalidPageSize
	}

	h.PageID = PageID(binary.LittleEndian.Uint64(buf[0:8]))
	h.PageType = PageType(buf[8])
	h.Flags = PageFlag(buf[9])
	h.ItemCount = binary.LittleEndian.Uint16(buf[10:12])
	h.FreeSpace = binary.LittleEndian.Uint16(buf[12:14])
	h.Checksum = binary.LittleEndian.Uint16(buf[14:16])

	return nil
}

// IsLeaf returns true if the page is a leaf node.
func (h *PageHeader) IsLeaf() bool {
	return h.Flags&PageFlagLeaf != 0
}

// SetLeaf sets the leaf flag on the page header.
func (h *PageHeader) SetLeaf() {
	h.Flags |= PageFlagLeaf
}

// ClearLeaf clears the leaf flag on the page header.
func (h *PageHeader) ClearLeaf() {
	h.Flags &^= PageFlagLeaf
}

// Page represents a complete page in the database.
type Page struct {
	Header PageHeader
	Data   []byte // Page data excluding header
}

// NewPage creates a new page with the given ID and type.
func NewPage(pageID PageID, pageType PageType) *Page {
	return &Page{
		Header: PageHeader{
			PageID:    pageID,
			PageType:  pageType,
			FreeSpace: PageDataSize,
		},
		Data: make([]byte, PageDataSize),
	}
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := &Page{Header: p.Header, Data: make([]byte, PageDataSize)}
	copy(c.Data, p.Data)
	return c
}

// Serialize writes the entire page to a new byte slice of PageSize bytes.
func (p *Page) Serialize() ([]byte, error) {
	buf := make([]byte, PageSize)
	return buf, p.SerializeTo(buf)
}

// SerializeTo writes the entire page to an existing byte slice.
// The slice must be at least PageSize bytes.
func (p *Page) SerializeTo(buf []byte) error {
	if len(buf) < PageSize {
		return ErrInvalidPageSize
	}

	p.Header.Checksum = p.CalculateChecksum()

	if err := p.Header.Serialize(buf[:PageHeaderSize]); err != nil {
		return err
	}

	copy(buf[PageHeaderSize:], p.Data)
	return nil
}

// Deserialize reads the entire page from a byte slice.
// The slice must be at least PageSize bytes.
func (p *Page) Deserialize(buf []byte) error {
	if len(buf) < PageSize {
		return ErrInvalidPageSize
	}

	if err := p.Header.Deserialize(buf[:PageHeaderSize]); err != nil {
		return err
	}

	if len(p.Data) < PageDataSize {
		p.Data = make([]byte, PageDataSize)
	}
	copy(p.Data, buf[PageHeaderSize:PageSize])

	return nil
}

// CalculateChecksum computes the 16-bit checksum of the page data.
// The header fields that identify the page are mixed in so a page
// written to the wrong offset does not validate.
func (p *Page) CalculateChecksum() uint16 {
	d := xxhash.New()
	var hdr [10]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(p.Header.PageID))
	hdr[8] = byte(p.Header.PageType)
	hdr[9] = byte(p.Header.Flags)
	d.Write(hdr[:])
	d.Write(p.Data)
	return uint16(d.Sum64())
}

// ValidateChecksum verifies the page checksum matches the stored value.
func (p *Page) ValidateChecksum() bool {
	return p.Header.Checksum == p.CalculateChecksum()
}

// DeserializeAndValidate reads the page and validates its checksum.
func (p *Page) DeserializeAndValidate(buf []byte) error {
	if err := p.Deserialize(buf); err != nil {
		return err
	}

	if !p.ValidateChecksum() {
		return ErrInvalidChecksum
	}

	return nil
}

// Reset clears the page data and resets the header.
func (p *Page) Reset(pageType PageType) {
	p.Header.PageType = pageType
	p.Header.Flags = 0
	p.Header.ItemCount = 0
	p.Header.FreeSpace = PageDataSize
	p.Header.Checksum = 0

	clear(p.Data)
}

// isBlank reports whether buf is all zeros, which is what a page looks like
// after the file grows but before anything is written to it.
func isBlank(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
