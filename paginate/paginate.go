// Package paginate splits a laid-out chapter into fixed-size pages.
//
// The paginator walks the markup tree's edges in document order while
// maintaining the running absolute offset of the current node (relative
// box added on open, subtracted on close). Each text run, raster image
// or svg drawing becomes a positioned DisplayItem on the current page;
// an item whose vertical extent runs past the page bottom starts a new
// page pinned at the item's top. Runs never split across pages.
package paginate

import (
	"image"

	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/internal/imagecache"
	"github.com/ksonny/scribble-reader/layout"
	"github.com/ksonny/scribble-reader/markup"
)

// ResourceLoader resolves archive paths to raw bytes. book.Archive
// satisfies it.
type ResourceLoader interface {
	Resource(path string) ([]byte, error)
}

// ItemKind discriminates the DisplayItem variants.
type ItemKind uint8

const (
	// ItemText is a positioned text run.
	ItemText ItemKind = iota

	// ItemImage is a positioned pixel rectangle.
	ItemImage
)

// TextItem points at the laid-out block whose lines paint at the item's
// position.
type TextItem struct {
	Block *layout.TextBlock
}

// ImageItem carries premultiplied RGBA pixels scaled to their display
// size.
type ImageItem struct {
	Pixels *image.RGBA
	W, H   float32
}

// DisplayItem is one drawable on a page, positioned in device pixels
// relative to the page's content origin. The variant set is closed;
// callers switch on Kind.
type DisplayItem struct {
	Kind  ItemKind
	X, Y  float32
	Text  *TextItem
	Image *ImageItem
}

// PageContent is one rendered page: the half-open element range it
// covers and its positioned items. Across a chapter the element ranges
// partition the chapter's range, exactly one page carries First and
// exactly one carries Last.
type PageContent struct {
	Chapter  uint32
	Elements book.Range
	First    bool
	Last     bool
	Items    []DisplayItem
}

// Input bundles everything one pagination pass reads. PageWidth and
// PageHeight describe the padded content box in device pixels.
type Input struct {
	Tree    *markup.Tree
	Body    markup.NodeID
	Layout  *layout.Result
	Indexes map[markup.NodeID]uint32

	Chapter  uint32
	Elements book.Range

	PageWidth  float32
	PageHeight float32

	// Resources resolves image references; nil disables image items.
	Resources ResourceLoader

	// BaseDir is the chapter's directory inside the archive, for
	// resolving relative references.
	BaseDir string

	// Images memoizes decoded raster images across pagination passes;
	// nil decodes every reference anew.
	Images *imagecache.Cache
}

type walker struct {
	in      Input
	pages   []*PageContent
	cur     *PageContent
	pageTop float32
	curElem uint32
	diags   []string
}

// Paginate splits the laid-out chapter into pages. Non-fatal item
// failures (undecodable images, bad svg) are skipped and reported as
// diagnostics.
func Paginate(in Input) ([]*PageContent, []string, error) {
	w := &walker{in: in, curElem: in.Elements.Start}
	w.startPage()

	var x, y float32
	skipSVG := 0
	for edge := range in.Tree.Edges(in.Body) {
		switch edge.Kind {
		case markup.EdgeOpen:
			if skipSVG > 0 {
				skipSVG++
				continue
			}
			if idx, ok := in.Indexes[edge.ID]; ok {
				w.curElem = idx
			}
			if box, ok := in.Layout.Boxes[edge.ID]; ok {
				x += box.X
				y += box.Y
			}
			switch edge.Element.Name.Local {
			case "svg":
				w.emitSVG(edge.ID, x, y)
				skipSVG = 1
			case "img":
				w.emitImage(edge.Element, x, y)
			}
		case markup.EdgeClose:
			if skipSVG > 0 {
				skipSVG--
				if skipSVG > 0 {
					continue
				}
			}
			if box, ok := in.Layout.Boxes[edge.ID]; ok {
				x -= box.X
				y -= box.Y
			}
		case markup.EdgeText:
			if skipSVG > 0 {
				continue
			}
			blk, ok := in.Layout.Blocks[edge.ID]
			if !ok {
				continue
			}
			box := in.Layout.Boxes[edge.ID]
			w.placeText(blk, x+box.X, y+box.Y)
		}
	}

	w.finish()
	return w.pages, w.diags, nil
}

func (w *walker) startPage() {
	w.cur = &PageContent{
		Chapter:  w.in.Chapter,
		Elements: book.Range{Start: w.curElem},
	}
	w.pages = append(w.pages, w.cur)
}

// breakPage closes the current page at the current element and opens
// the next one. The element whose content forced the break belongs to
// the new page.
func (w *walker) breakPage(top float32) {
	w.cur.Elements.End = w.curElem
	w.startPage()
	w.pageTop = top
}

// placeAt returns the page-relative y for an item of height h at
// absolute y, breaking to a fresh page first when the item runs past
// the page bottom. An item taller than a whole page stays at the top
// of its own page.
func (w *walker) placeAt(y, h float32) float32 {
	if y+h > w.pageTop+w.in.PageHeight && y > w.pageTop {
		w.breakPage(y)
	}
	return y - w.pageTop
}

func (w *walker) placeText(blk *layout.TextBlock, x, y float32) {
	h := blk.Height()
	if h == 0 {
		return
	}
	pageY := w.placeAt(y, h)
	w.cur.Items = append(w.cur.Items, DisplayItem{
		Kind: ItemText,
		X:    x,
		Y:    pageY,
		Text: &TextItem{Block: blk},
	})
}

func (w *walker) placeImage(pixels *image.RGBA, dispW, dispH, x, y float32) {
	pageY := w.placeAt(y, dispH)
	w.cur.Items = append(w.cur.Items, DisplayItem{
		Kind:  ItemImage,
		X:     x,
		Y:     pageY,
		Image: &ImageItem{Pixels: pixels, W: dispW, H: dispH},
	})
}

func (w *walker) finish() {
	w.cur.Elements.End = w.in.Elements.End
	w.pages[0].First = true
	w.pages[len(w.pages)-1].Last = true
}

// remaining returns the vertical space left on the current page below
// absolute offset y.
func (w *walker) remaining(y float32) float32 {
	return w.pageTop + w.in.PageHeight - y
}
