// Package pagecache holds rendered chapters in a fixed five-slot ring.
//
// Each entry is a whole chapter's page list. Slots are reused in
// insertion order, so the entry inserted five insertions ago is the one
// evicted; re-rendering a cached chapter overwrites its slot in place.
// The cache resolves Locations to pages and computes page-step moves,
// including across chapter boundaries.
package pagecache

import (
	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/paginate"
)

// Slots is the fixed capacity of the cache.
const Slots = 5

// Entry is one cached chapter: its spine index, the element range it
// covers and its rendered pages in reading order.
type Entry struct {
	Chapter  uint32
	Elements book.Range
	Pages    []*paginate.PageContent
}

// Cache is the five-slot page store. It is not safe for concurrent
// use; the engine guards it with its state lock.
type Cache struct {
	slots [Slots]*Entry
	next  int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Len returns the number of cached chapters.
func (c *Cache) Len() int {
	n := 0
	for _, e := range c.slots {
		if e != nil {
			n++
		}
	}
	return n
}

// Clear drops every entry. Settings changes invalidate all rendered
// pages at once.
func (c *Cache) Clear() {
	*c = Cache{}
}

// Insert stores a chapter. A chapter already in the cache is replaced
// in its slot; otherwise the insertion cursor's slot is reused and
// advanced.
func (c *Cache) Insert(e *Entry) {
	for i, old := range c.slots {
		if old != nil && old.Chapter == e.Chapter {
			c.slots[i] = e
			return
		}
	}
	c.slots[c.next] = e
	c.next = (c.next + 1) % Slots
}

// Chapter returns the cached entry for a spine index.
func (c *Cache) Chapter(spine uint32) (*Entry, bool) {
	for _, e := range c.slots {
		if e != nil && e.Chapter == spine {
			return e, true
		}
	}
	return nil, false
}

// Page resolves a Location to the page displaying it. An element before
// the first page's range resolves to the first page; an element at or
// past the last page's start resolves to the last page.
func (c *Cache) Page(loc book.Location) (*paginate.PageContent, bool) {
	entry, ok := c.Chapter(loc.Spine)
	if !ok || len(entry.Pages) == 0 {
		return nil, false
	}
	pages := entry.Pages
	if loc.Element < pages[0].Elements.Start {
		return pages[0], true
	}
	last := pages[len(pages)-1]
	if loc.Element >= last.Elements.Start {
		return last, true
	}
	for _, p := range pages {
		if p.Elements.Contains(loc.Element) {
			return p, true
		}
	}
	return last, true
}

// pageIndex returns the index of the page displaying loc within its
// entry, mirroring the Page resolution rules.
func (c *Cache) pageIndex(entry *Entry, element uint32) int {
	pages := entry.Pages
	if element < pages[0].Elements.Start {
		return 0
	}
	if element >= pages[len(pages)-1].Elements.Start {
		return len(pages) - 1
	}
	for i, p := range pages {
		if p.Elements.Contains(element) {
			return i
		}
	}
	return len(pages) - 1
}

// Next returns the Location of the page after loc's page and whether
// the target chapter is cached. Stepping past the chapter's last page
// moves to the first element of the next chapter.
func (c *Cache) Next(loc book.Location) (book.Location, bool) {
	entry, ok := c.Chapter(loc.Spine)
	if !ok || len(entry.Pages) == 0 {
		return loc, false
	}
	i := c.pageIndex(entry, loc.Element)
	if i+1 < len(entry.Pages) {
		return book.Location{Spine: loc.Spine, Element: entry.Pages[i+1].Elements.Start}, true
	}
	target := book.Location{Spine: loc.Spine + 1, Element: entry.Elements.End}
	_, cached := c.Chapter(target.Spine)
	return target, cached
}

// Previous returns the Location of the page before loc's page and
// whether the target chapter is cached. Stepping before the chapter's
// first page moves to the last element of the previous chapter.
func (c *Cache) Previous(loc book.Location) (book.Location, bool) {
	entry, ok := c.Chapter(loc.Spine)
	if !ok || len(entry.Pages) == 0 {
		return loc, false
	}
	i := c.pageIndex(entry, loc.Element)
	if i > 0 {
		return book.Location{Spine: loc.Spine, Element: entry.Pages[i-1].Elements.Start}, true
	}
	if loc.Spine == 0 {
		return book.Location{Spine: 0, Element: entry.Pages[0].Elements.Start}, true
	}
	target := book.Location{Spine: loc.Spine - 1}
	if entry.Elements.Start > 0 {
		target.Element = entry.Elements.Start - 1
	}
	_, cached := c.Chapter(target.Spine)
	return target, cached
}
