// Package book defines the shared data model of the rendering engine:
// reading locations, spine items, the table of contents, and the
// interfaces the engine consumes from its archive and persistence
// collaborators.
//
// The engine addresses content with a Location: a spine (chapter)
// index plus a dense per-chapter element index. Element indexes are
// assigned by a pre-scan pass over a parsed chapter and are only
// stable for the lifetime of that parse.
package book

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies one book in the records store.
type ID = uuid.UUID

// Location is an addressable reading position.
type Location struct {
	// Spine is the index of the chapter in the book's linear reading order.
	Spine uint32

	// Element is the index of a content-producing node within the book's
	// global dense element enumeration.
	Element uint32
}

// String implements fmt.Stringer for log output.
func (l Location) String() string {
	return fmt.Sprintf("[spine %d, element %d]", l.Spine, l.Element)
}

// Range is a half-open interval [Start, End) of element indexes.
type Range struct {
	Start uint32
	End   uint32
}

// Contains reports whether e falls inside the range.
func (r Range) Contains(e uint32) bool {
	return e >= r.Start && e < r.End
}

// Len returns the number of elements covered by the range.
func (r Range) Len() uint32 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// SpineItem is one chapter in the book's linear reading order.
type SpineItem struct {
	// Index is the position of the chapter in the spine.
	Index uint32

	// ID is the manifest resource id of the chapter document.
	ID string

	// Href is the archive path of the chapter document, relative to the
	// package document's directory.
	Href string

	// Elements is the element-index range owned exclusively by this
	// chapter, assigned during the chapter pre-scan.
	Elements Range

	// Words is the whitespace-separated word count of the chapter,
	// gathered while opening the book.
	Words uint64
}

// TOCItem is one entry of the table of contents.
type TOCItem struct {
	Title    string
	Location Location
}

// TOC is the navigation document mapped onto Locations.
type TOC struct {
	Title string
	Items []TOCItem
}

// Archive is the container collaborator: it serves chapter byte streams
// and resources by path. Implementations must be safe for sequential
// use from a single worker goroutine; all reads are synchronous and
// bounded (the archive is an in-memory buffer).
type Archive interface {
	// Chapter returns the raw bytes of spine item i.
	Chapter(i uint32) ([]byte, error)

	// Resource returns the bytes of an archive resource by path. The
	// path is resolved the same way chapter-internal references are:
	// relative to the package document's directory.
	Resource(path string) ([]byte, error)

	// Spine returns the ordered chapter list. The Elements ranges are
	// zero until the engine's pre-scan fills them in.
	Spine() []SpineItem

	// TOC returns the navigation entries in reading order. Locations
	// carry spine indexes only; element indexes are resolved by the
	// engine once chapters are scanned.
	TOC() TOC
}

// Records is the persistence collaborator. The engine stores the
// last-read location after every successful page transition.
type Records interface {
	// ReadingState returns the stored location for the book, or ok=false
	// if none has been stored yet.
	ReadingState(id ID) (Location, bool, error)

	// SaveReadingState stores the last-read location for the book.
	SaveReadingState(id ID, loc Location) error
}
