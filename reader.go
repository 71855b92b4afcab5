package scribble

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/internal/imagecache"
	"github.com/ksonny/scribble-reader/layout"
	"github.com/ksonny/scribble-reader/markup"
	"github.com/ksonny/scribble-reader/pagecache"
	"github.com/ksonny/scribble-reader/paginate"
	"github.com/ksonny/scribble-reader/typeset"
)

// ErrWorkerClosed is returned by requests made after Close.
var ErrWorkerClosed = errors.New("scribble: worker closed")

// ErrMissingBody marks a chapter whose markup yields no body container.
var ErrMissingBody = errors.New("scribble: chapter has no body")

// ErrUnbalancedClose marks a chapter whose markup closes elements it
// never opened.
var ErrUnbalancedClose = errors.New("scribble: chapter has unbalanced close tags")

// Notification announces that a settled render made the page for a
// location available.
type Notification struct {
	Book     book.ID
	Location book.Location
}

type reqKind uint8

const (
	reqGoto reqKind = iota
	reqNext
	reqPrev
	reqResize
	reqRescale
	reqRefresh
)

type request struct {
	kind          reqKind
	loc           book.Location
	width, height uint32
	scale         float32
}

// Reader renders one book on its own worker goroutine. The host drives
// it with the fire-and-forget request methods and paints from the
// read-only snapshot accessors after each content-ready notification.
type Reader struct {
	id      book.ID
	archive book.Archive
	records book.Records
	logger  *log.Logger

	requests chan request
	notify   chan Notification

	closeMu sync.Mutex
	closed  bool

	// mu guards the page cache, current location, settings, spine and
	// toc. The host reads them through the accessors; only the worker
	// writes.
	mu       sync.RWMutex
	settings RenderSettings
	cache    *pagecache.Cache
	location book.Location
	spine    []book.SpineItem
	toc      book.TOC

	// fontMu guards the shaper and atlas; both carry per-face mutable
	// state.
	fontMu     sync.Mutex
	catalog    *typeset.Catalog
	shaper     *typeset.Shaper
	atlas      *typeset.Atlas
	faceBody   typeset.FaceRef
	faceBold   typeset.FaceRef
	faceItalic typeset.FaceRef

	// builder is reused across chapter parses; only the worker touches
	// it after Open.
	builder *markup.Builder

	// images survives cache invalidation so re-renders after a settings
	// change skip the decode step.
	images *imagecache.Cache
}

// Open spawns the worker for one book. The id names the book in the
// records store; a stored reading position is restored when valid.
// Font configuration problems fail the open.
func Open(id book.ID, archive book.Archive, records book.Records, settings RenderSettings, logger *log.Logger) (*Reader, error) {
	if logger == nil {
		logger = Logger()
	}
	r := &Reader{
		id:       id,
		archive:  archive,
		records:  records,
		logger:   logger,
		requests: make(chan request, 32),
		notify:   make(chan Notification, 32),
		settings: settings,
		cache:    pagecache.New(),
		spine:    archive.Spine(),
		builder:  markup.NewBuilder(),
		images:   imagecache.New(0),
	}

	catalog, err := typeset.NewCatalog()
	if err != nil {
		return nil, err
	}
	r.catalog = catalog
	if err := r.buildShaper(settings); err != nil {
		return nil, err
	}

	r.prescan()
	r.toc = r.resolveTOC(archive.TOC())
	r.location = r.restoreLocation()
	logger.Info("book opened", "book", id, "chapters", len(r.spine), "location", r.location)

	go r.worker()
	r.requests <- request{kind: reqGoto, loc: r.location}
	return r, nil
}

// buildShaper resolves the configured font families into a fresh
// shaper/atlas pair. Unset bold and italic families fall back to the
// body family with variable-font axes applied, so resolution never
// fails on books that only configure a body font.
func (r *Reader) buildShaper(s RenderSettings) error {
	queries := []typeset.FontQuery{
		{Family: typeset.Family{Name: s.BodyFont, Generic: typeset.Serif}},
		{Family: typeset.Family{Name: s.BoldFont, Generic: typeset.Serif}},
		{Family: typeset.Family{Name: s.ItalicFont, Generic: typeset.Serif}},
	}
	if s.BoldFont == "" {
		queries[1].Family.Name = s.BodyFont
		queries[1].Variations = []typeset.Variation{{Axis: "wght", Value: 700}}
	}
	if s.ItalicFont == "" {
		queries[2].Family.Name = s.BodyFont
		queries[2].Variations = []typeset.Variation{{Axis: "ital", Value: 1}}
	}

	refs, shaper, atlas, err := r.catalog.CreateShaper(s.ScaleFactor, queries)
	if err != nil {
		return err
	}
	r.fontMu.Lock()
	r.shaper, r.atlas = shaper, atlas
	r.faceBody, r.faceBold, r.faceItalic = refs[0], refs[1], refs[2]
	r.fontMu.Unlock()
	return nil
}

// prescan parses every chapter once to assign the book's global dense
// element ranges. Chapters that fail to parse own an empty range and
// keep the enumeration contiguous.
func (r *Reader) prescan() {
	next := uint32(0)
	for i := range r.spine {
		r.spine[i].Elements = book.Range{Start: next, End: next}
		data, err := r.archive.Chapter(uint32(i))
		if err != nil {
			r.logger.Warn("prescan: chapter unreadable", "spine", i, "err", err)
			continue
		}
		r.builder.Reset()
		doc, err := r.builder.Parse(bytes.NewReader(data))
		if err != nil || !doc.HasBody {
			r.logger.Warn("prescan: chapter has no content", "spine", i, "err", err)
			continue
		}
		_, end := doc.Tree.AssignElementIndexes(doc.Body, next)
		r.spine[i].Elements = book.Range{Start: next, End: end}
		next = end
	}
}

// resolveTOC pins each navigation entry to the first element of its
// chapter.
func (r *Reader) resolveTOC(toc book.TOC) book.TOC {
	resolved := book.TOC{Title: toc.Title, Items: make([]book.TOCItem, 0, len(toc.Items))}
	for _, item := range toc.Items {
		if int(item.Location.Spine) >= len(r.spine) {
			continue
		}
		item.Location.Element = r.spine[item.Location.Spine].Elements.Start
		resolved.Items = append(resolved.Items, item)
	}
	return resolved
}

func (r *Reader) restoreLocation() book.Location {
	if r.records == nil {
		return book.Location{}
	}
	loc, ok, err := r.records.ReadingState(r.id)
	if err != nil {
		r.logger.Warn("reading state unavailable", "err", err)
		return book.Location{}
	}
	if !ok || int(loc.Spine) >= len(r.spine) {
		return book.Location{}
	}
	if elems := r.spine[loc.Spine].Elements; elems.Len() > 0 && !elems.Contains(loc.Element) {
		return book.Location{}
	}
	return loc
}

// ID returns the book's identity in the records store.
func (r *Reader) ID() book.ID {
	return r.id
}

// Notifications returns the content-ready channel. It is closed when
// the worker exits.
func (r *Reader) Notifications() <-chan Notification {
	return r.notify
}

// Location returns the current reading position.
func (r *Reader) Location() book.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location
}

// Settings returns the active render settings snapshot.
func (r *Reader) Settings() RenderSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Spine returns a copy of the chapter list with element ranges and
// word counts filled in.
func (r *Reader) Spine() []book.SpineItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]book.SpineItem, len(r.spine))
	copy(out, r.spine)
	return out
}

// TOC returns the navigation entries resolved to Locations.
func (r *Reader) TOC() book.TOC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toc
}

// Page resolves a location to its rendered page, if that chapter is
// cached.
func (r *Reader) Page(loc book.Location) (*paginate.PageContent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Page(loc)
}

// CurrentPage returns the page for the current location.
func (r *Reader) CurrentPage() (*paginate.PageContent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Page(r.location)
}

// Goto requests a jump to an absolute location.
func (r *Reader) Goto(loc book.Location) error {
	return r.send(request{kind: reqGoto, loc: loc})
}

// NextPage requests a one-page forward move.
func (r *Reader) NextPage() error {
	return r.send(request{kind: reqNext})
}

// PreviousPage requests a one-page backward move.
func (r *Reader) PreviousPage() error {
	return r.send(request{kind: reqPrev})
}

// Resize requests new page dimensions. All rendered pages are
// invalidated and the current location re-renders first.
func (r *Reader) Resize(width, height uint32) error {
	return r.send(request{kind: reqResize, width: width, height: height})
}

// Rescale requests a new device scale factor, rebuilding the shaper
// and atlas.
func (r *Reader) Rescale(scale float32) error {
	return r.send(request{kind: reqRescale, scale: scale})
}

// RefreshCache requests a full re-render of the current chapter.
func (r *Reader) RefreshCache() error {
	return r.send(request{kind: reqRefresh})
}

func (r *Reader) send(req request) error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return ErrWorkerClosed
	}
	r.requests <- req
	return nil
}

// Close shuts the worker down. An in-flight render always completes
// first; the notification channel closes when the worker exits.
func (r *Reader) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.requests)
}

// worker is the per-book goroutine. It blocks on the request channel,
// drains any burst of pending requests without blocking, settles the
// resulting state with at most one render pass, then notifies.
func (r *Reader) worker() {
	defer close(r.notify)
	for {
		req, ok := <-r.requests
		if !ok {
			return
		}
		batch := []request{req}
	drain:
		for {
			select {
			case more, ok := <-r.requests:
				if !ok {
					r.process(batch)
					return
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		r.process(batch)
	}
}

func (r *Reader) process(batch []request) {
	loc := r.Location()
	for _, req := range batch {
		switch req.kind {
		case reqGoto:
			loc = r.clamp(req.loc)
		case reqNext, reqPrev:
			loc = r.step(loc, req.kind)
		case reqResize:
			r.mu.Lock()
			if r.settings.PageWidth != req.width || r.settings.PageHeight != req.height {
				r.settings.PageWidth = req.width
				r.settings.PageHeight = req.height
				r.cache.Clear()
			}
			r.mu.Unlock()
		case reqRescale:
			r.mu.Lock()
			changed := r.settings.ScaleFactor != req.scale
			r.settings.ScaleFactor = req.scale
			settings := r.settings
			r.mu.Unlock()
			if changed {
				if err := r.buildShaper(settings); err != nil {
					r.logger.Error("rescale failed", "err", err)
				}
				r.mu.Lock()
				r.cache.Clear()
				r.mu.Unlock()
			}
		case reqRefresh:
			r.mu.Lock()
			r.cache.Clear()
			r.mu.Unlock()
		}
	}

	if err := r.ensureChapter(loc.Spine); err != nil {
		r.logger.Error("render failed", "spine", loc.Spine, "err", err)
		return
	}

	r.mu.Lock()
	r.location = loc
	r.mu.Unlock()

	if r.records != nil {
		if err := r.records.SaveReadingState(r.id, loc); err != nil {
			r.logger.Warn("reading state not persisted", "err", err)
		}
	}
	select {
	case r.notify <- Notification{Book: r.id, Location: loc}:
	default:
	}
}

// step applies one page move, rendering the target chapter when the
// move crosses into an uncached one. Moves past either end of the book
// stay in place.
func (r *Reader) step(loc book.Location, kind reqKind) book.Location {
	if err := r.ensureChapter(loc.Spine); err != nil {
		r.logger.Error("render failed", "spine", loc.Spine, "err", err)
		return loc
	}
	r.mu.RLock()
	var target book.Location
	if kind == reqNext {
		target, _ = r.cache.Next(loc)
	} else {
		target, _ = r.cache.Previous(loc)
	}
	r.mu.RUnlock()
	if int(target.Spine) >= len(r.spine) {
		return loc
	}
	return target
}

func (r *Reader) clamp(loc book.Location) book.Location {
	if len(r.spine) == 0 {
		return book.Location{}
	}
	if int(loc.Spine) >= len(r.spine) {
		loc.Spine = uint32(len(r.spine) - 1)
	}
	return loc
}

// ensureChapter renders a chapter into the cache if it is not already
// there. Failures leave previously rendered chapters intact.
func (r *Reader) ensureChapter(spine uint32) error {
	r.mu.RLock()
	_, cached := r.cache.Chapter(spine)
	r.mu.RUnlock()
	if cached {
		return nil
	}
	entry, err := r.renderChapter(spine)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cache.Insert(entry)
	r.mu.Unlock()
	r.logger.Debug("chapter rendered", "spine", spine, "pages", len(entry.Pages))
	return nil
}

// renderChapter runs the full pipeline for one chapter: parse, layout,
// paginate.
func (r *Reader) renderChapter(spine uint32) (*pagecache.Entry, error) {
	if int(spine) >= len(r.spine) {
		return nil, fmt.Errorf("scribble: spine index %d out of range", spine)
	}
	item := r.spine[spine]

	data, err := r.archive.Chapter(spine)
	if err != nil {
		r.builder.Reset()
		return nil, fmt.Errorf("scribble: read chapter %d: %w", spine, err)
	}
	r.builder.Reset()
	doc, err := r.builder.Parse(bytes.NewReader(data))
	if err != nil {
		r.builder.Reset()
		return nil, fmt.Errorf("scribble: parse chapter %d: %w", spine, err)
	}
	if !doc.HasBody {
		return nil, fmt.Errorf("chapter %d: %w", spine, ErrMissingBody)
	}
	for _, diag := range doc.Diagnostics {
		if diag.Kind == markup.DiagUnmatchedClose {
			return nil, fmt.Errorf("chapter %d: %s: %w", spine, diag, ErrUnbalancedClose)
		}
		r.logger.Warn("chapter diagnostic", "spine", spine, "diag", diag)
	}

	indexes, end := doc.Tree.AssignElementIndexes(doc.Body, item.Elements.Start)
	if end != item.Elements.End {
		r.logger.Warn("element count drifted from prescan",
			"spine", spine, "prescan", item.Elements.End, "now", end)
	}

	settings := r.Settings()
	contentW, contentH := settings.contentBox()

	r.fontMu.Lock()
	params := layout.Params{
		FontSizePx:     settings.FontSizePx,
		LineHeight:     settings.LineHeight,
		ParagraphGapEm: settings.ParagraphEm,
		Heading:        settings.headingScale(),
		Body:           r.faceBody,
		Bold:           r.faceBold,
		Italic:         r.faceItalic,
	}
	res, err := layout.Compute(doc.Tree, doc.Body, r.shaper, params, contentW)
	r.fontMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("scribble: layout chapter %d: %w", spine, err)
	}

	baseDir := path.Dir(item.Href)
	if baseDir == "." {
		baseDir = ""
	}
	pages, diags, err := paginate.Paginate(paginate.Input{
		Tree:       doc.Tree,
		Body:       doc.Body,
		Layout:     res,
		Indexes:    indexes,
		Chapter:    spine,
		Elements:   item.Elements,
		PageWidth:  contentW,
		PageHeight: contentH,
		Resources:  r.archive,
		BaseDir:    baseDir,
		Images:     r.images,
	})
	if err != nil {
		return nil, fmt.Errorf("scribble: paginate chapter %d: %w", spine, err)
	}
	for _, diag := range diags {
		r.logger.Warn("page diagnostic", "spine", spine, "diag", diag)
	}

	return &pagecache.Entry{Chapter: spine, Elements: item.Elements, Pages: pages}, nil
}

// PageGlyphs packs every glyph of a page into the atlas and returns
// the positioned quads to draw, in device pixels relative to the
// page's content origin. Atlas exhaustion surfaces here.
func (r *Reader) PageGlyphs(page *paginate.PageContent) ([]typeset.DisplayGlyph, error) {
	settings := r.Settings()
	r.fontMu.Lock()
	defer r.fontMu.Unlock()
	var quads []typeset.DisplayGlyph
	for _, item := range page.Items {
		if item.Kind != paginate.ItemText {
			continue
		}
		blk := item.Text.Block
		var err error
		quads, err = r.atlas.AppendLineGlyphs(quads, blk.Lines, blk.SizePx,
			settings.LineHeight, item.X, item.Y+blk.Ascent)
		if err != nil {
			return nil, err
		}
	}
	return quads, nil
}

// AtlasImage returns a copy of the atlas buffer if glyphs were packed
// since the last call.
func (r *Reader) AtlasImage() (*image.Alpha, bool) {
	r.fontMu.Lock()
	defer r.fontMu.Unlock()
	return r.atlas.Image()
}
