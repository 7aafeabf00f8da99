package storage

// Pager is the page access surface shared by the raw PageManager and by
// transactions. Trees and blobs are written against it so the same code runs
// both inside a transaction and directly on the file (tests, recovery).
type Pager interface {
	// ReadPage returns a copy of the page. Mutating it has no effect until
	// it is passed to WritePage.
	ReadPage(id PageID) (*Page, error)

	// WritePage stores the page under page.Header.PageID.
	WritePage(page *Page) error

	// AllocatePage reserves a blank page of the given type.
	AllocatePage(pageType PageType) (PageID, error)

	// FreePage returns a page to the free pool.
	FreePage(id PageID) error
}
