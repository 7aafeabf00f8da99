package hash

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/nestkv/internal/storage"
)

// Catalog page layout (inside Page.Data):
//   - Bytes 0-3:  catalog tag "nkvc"
//   - Bytes 4-11: root of the keyspace tree (0 while the keyspace is empty)
//
// A freshly created data file has an all-zero catalog page, which reads as
// an empty keyspace.
var catalogTag = [4]byte{'n', 'k', 'v', 'c'}

// ErrCorruptCatalog is returned when the catalog page cannot be read.
var ErrCorruptCatalog = errors.New("catalog page is corrupt")

func readCatalog(p storage.Pager) (storage.PageID, error) {
	page, err := p.ReadPage(storage.CatalogPageID)
	if err != nil {
		return storage.InvalidPageID, err
	}
	if page.Header.PageType != storage.PageTypeCatalog {
		return storage.InvalidPageID, fmt.Errorf("%w: page type %s", ErrCorruptCatalog, page.Header.PageType)
	}

	var tag [4]byte
	copy(tag[:], page.Data[0:4])
	root := storage.PageID(binary.LittleEndian.Uint64(page.Data[4:12]))

	switch {
	case tag == catalogTag:
		return root, nil
	case tag == [4]byte{} && root == storage.InvalidPageID:
		return storage.InvalidPageID, nil
	default:
		return storage.InvalidPageID, fmt.Errorf("%w: tag %q", ErrCorruptCatalog, tag[:])
	}
}

func writeCatalog(p storage.Pager, root storage.PageID) error {
	page := storage.NewPage(storage.CatalogPageID, storage.PageTypeCatalog)
	copy(page.Data[0:4], catalogTag[:])
	binary.LittleEndian.PutUint64(page.Data[4:12], uint64(root))
	return p.WritePage(page)
}
