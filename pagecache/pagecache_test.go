package pagecache

import (
	"testing"

	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/paginate"
)

// entryFixture builds a chapter entry covering [start, end) split into
// pages of pageSpan elements each.
func entryFixture(chapter, start, end, pageSpan uint32) *Entry {
	e := &Entry{Chapter: chapter, Elements: book.Range{Start: start, End: end}}
	for s := start; s < end; s += pageSpan {
		pEnd := min(s+pageSpan, end)
		e.Pages = append(e.Pages, &paginate.PageContent{
			Chapter:  chapter,
			Elements: book.Range{Start: s, End: pEnd},
			First:    s == start,
			Last:     pEnd == end,
		})
	}
	if len(e.Pages) == 0 {
		e.Pages = append(e.Pages, &paginate.PageContent{
			Chapter:  chapter,
			Elements: book.Range{Start: start, End: end},
			First:    true,
			Last:     true,
		})
	}
	return e
}

func TestCacheNeverExceedsFiveEntries(t *testing.T) {
	c := New()
	for i := uint32(0); i < 8; i++ {
		c.Insert(entryFixture(i, i*10, i*10+10, 5))
		if c.Len() > Slots {
			t.Fatalf("cache holds %d entries after %d insertions", c.Len(), i+1)
		}
	}
	if c.Len() != Slots {
		t.Errorf("len = %d, want %d", c.Len(), Slots)
	}
}

func TestCacheEvictsFiveInsertionsAgo(t *testing.T) {
	c := New()
	for i := uint32(0); i < 6; i++ {
		c.Insert(entryFixture(i, i*10, i*10+10, 5))
	}
	// Chapter 0 was inserted six insertions ago and chapter 1 five; the
	// sixth insertion reused chapter 0's slot.
	if _, ok := c.Chapter(0); ok {
		t.Error("chapter 0 still cached after six insertions")
	}
	for i := uint32(1); i < 6; i++ {
		if _, ok := c.Chapter(i); !ok {
			t.Errorf("chapter %d missing", i)
		}
	}
}

func TestCacheReinsertOverwritesInPlace(t *testing.T) {
	c := New()
	for i := uint32(0); i < 5; i++ {
		c.Insert(entryFixture(i, i*10, i*10+10, 5))
	}
	c.Insert(entryFixture(2, 20, 30, 10))
	if c.Len() != 5 {
		t.Fatalf("len = %d after re-insert, want 5", c.Len())
	}
	entry, ok := c.Chapter(2)
	if !ok {
		t.Fatal("chapter 2 missing after re-insert")
	}
	if len(entry.Pages) != 1 {
		t.Errorf("re-inserted entry has %d pages, want 1", len(entry.Pages))
	}
	// The cursor did not advance, so the next insertion still evicts
	// chapter 0.
	c.Insert(entryFixture(7, 70, 80, 5))
	if _, ok := c.Chapter(0); ok {
		t.Error("chapter 0 survived the sixth distinct insertion")
	}
}

func TestPageResolution(t *testing.T) {
	c := New()
	c.Insert(entryFixture(1, 10, 22, 4)) // pages 10..14, 14..18, 18..22

	tests := []struct {
		name    string
		element uint32
		want    uint32 // expected page start
	}{
		{"before first page", 3, 10},
		{"first element", 10, 10},
		{"inside middle page", 15, 14},
		{"at last page start", 18, 18},
		{"past chapter end", 40, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, ok := c.Page(book.Location{Spine: 1, Element: tt.element})
			if !ok {
				t.Fatal("page not resolved")
			}
			if page.Elements.Start != tt.want {
				t.Errorf("resolved page starts at %d, want %d", page.Elements.Start, tt.want)
			}
		})
	}

	if _, ok := c.Page(book.Location{Spine: 9, Element: 0}); ok {
		t.Error("uncached chapter resolved a page")
	}
}

func TestNextPreviousWithinChapter(t *testing.T) {
	c := New()
	c.Insert(entryFixture(0, 0, 12, 4)) // pages 0..4, 4..8, 8..12

	loc := book.Location{Spine: 0, Element: 0}
	next, ok := c.Next(loc)
	if !ok || next != (book.Location{Spine: 0, Element: 4}) {
		t.Fatalf("Next(%v) = %v/%v, want {0 4}/true", loc, next, ok)
	}
	back, ok := c.Previous(next)
	if !ok || back != loc {
		t.Errorf("Previous(Next(%v)) = %v/%v, want identity", loc, back, ok)
	}
}

func TestNextCrossesChapterBoundary(t *testing.T) {
	c := New()
	c.Insert(entryFixture(0, 0, 10, 5))
	c.Insert(entryFixture(1, 10, 18, 5))

	next, cached := c.Next(book.Location{Spine: 0, Element: 7})
	if next != (book.Location{Spine: 1, Element: 10}) {
		t.Errorf("Next past last page = %v, want {1 10}", next)
	}
	if !cached {
		t.Error("target chapter 1 is cached but reported uncached")
	}

	next, cached = c.Next(book.Location{Spine: 1, Element: 15})
	if next != (book.Location{Spine: 2, Element: 18}) {
		t.Errorf("Next past book-final cached chapter = %v, want {2 18}", next)
	}
	if cached {
		t.Error("chapter 2 reported cached")
	}
}

func TestPreviousCrossesChapterBoundary(t *testing.T) {
	c := New()
	c.Insert(entryFixture(0, 0, 10, 5))
	c.Insert(entryFixture(1, 10, 18, 5))

	prev, cached := c.Previous(book.Location{Spine: 1, Element: 12})
	if prev != (book.Location{Spine: 0, Element: 9}) {
		t.Errorf("Previous before first page = %v, want {0 9}", prev)
	}
	if !cached {
		t.Error("target chapter 0 is cached but reported uncached")
	}

	// The first page of the first chapter has nowhere earlier to go.
	prev, ok := c.Previous(book.Location{Spine: 0, Element: 2})
	if !ok || prev != (book.Location{Spine: 0, Element: 0}) {
		t.Errorf("Previous at book start = %v/%v, want {0 0}/true", prev, ok)
	}
}

func TestClearDropsEverything(t *testing.T) {
	c := New()
	c.Insert(entryFixture(0, 0, 10, 5))
	c.Insert(entryFixture(1, 10, 20, 5))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after Clear = %d, want 0", c.Len())
	}
	if _, ok := c.Page(book.Location{}); ok {
		t.Error("cleared cache resolved a page")
	}
}
