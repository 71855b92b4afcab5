package typeset

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/go-text/typesetting/font"
	ot "github.com/go-text/typesetting/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// ErrAtlasFull is returned when a glyph cannot be packed even after the
// atlas has grown to its maximum texture size. This is fatal to
// rendering and surfaced to the host.
var ErrAtlasFull = errors.New("typeset: glyph atlas full")

const (
	// initialAtlasSize is the edge length the atlas starts at.
	initialAtlasSize = 1024

	// atlasGrowth is the fixed increment the atlas grows by.
	atlasGrowth = 1024

	// maxAtlasSize is the hard maximum texture edge length.
	maxAtlasSize = 8192

	// glyphPadding keeps packed glyphs from bleeding into neighbors
	// when sampled.
	glyphPadding = 1
)

// GlyphKey addresses one rasterized glyph in the atlas.
type GlyphKey struct {
	Face FaceRef
	GID  font.GID

	// Size is the device-pixel font size.
	Size fixed.Int26_6
}

// Region describes where a packed glyph lives in the atlas and how to
// place its bitmap relative to the pen position.
type Region struct {
	// Rect is the glyph's pixel rectangle inside the atlas image.
	Rect image.Rectangle

	// Left is the horizontal bearing: offset from the pen to the
	// bitmap's left edge.
	Left int

	// Top is the vertical bearing: offset from the baseline up to the
	// bitmap's top edge.
	Top int
}

// Empty reports whether the glyph rasterized to nothing (spaces and
// other blank glyphs).
func (r Region) Empty() bool {
	return r.Rect.Empty()
}

// AtlasStats counts atlas work, mostly for tests and diagnostics.
type AtlasStats struct {
	Lookups        uint64
	Rasterizations uint64
	Allocations    uint64
}

// shelf is one packing row: glyphs are placed left to right at a fixed
// y until the row's width is exhausted.
type shelf struct {
	y, height, x int
}

// Atlas packs rasterized glyph outlines into a shared alpha buffer.
// Each (face, glyph, size) is rasterized and allocated exactly once;
// re-requests are O(1) map lookups. The buffer grows in fixed
// increments up to maxAtlasSize and reports ErrAtlasFull beyond that.
//
// Atlas is not safe for concurrent use; the engine guards it with the
// same lock as the Shaper since both touch font state.
type Atlas struct {
	scale float32
	faces []*font.Face

	img     *image.Alpha
	maxSize int
	shelves []shelf
	nextY   int

	glyphs map[GlyphKey]Region
	dirty  bool
	stats  AtlasStats
}

func newAtlas(scale float32, faces []*font.Face, maxSize int) *Atlas {
	size := min(initialAtlasSize, maxSize)
	return &Atlas{
		scale:   scale,
		faces:   faces,
		img:     image.NewAlpha(image.Rect(0, 0, size, size)),
		maxSize: maxSize,
		glyphs:  make(map[GlyphKey]Region),
	}
}

// Size returns the current atlas edge lengths.
func (a *Atlas) Size() (w, h int) {
	b := a.img.Bounds()
	return b.Dx(), b.Dy()
}

// Stats returns the atlas work counters.
func (a *Atlas) Stats() AtlasStats {
	return a.stats
}

// Glyph returns the atlas region for one glyph at sizePx (logical
// pixels), rasterizing and packing it on first request.
func (a *Atlas) Glyph(plan GlyphPlan, sizePx float32) (Region, error) {
	key := GlyphKey{Face: plan.Face, GID: plan.GID, Size: floatToFixed(sizePx * a.scale)}
	a.stats.Lookups++
	if region, ok := a.glyphs[key]; ok {
		return region, nil
	}
	region, err := a.rasterize(plan, key)
	if err != nil {
		return Region{}, err
	}
	a.glyphs[key] = region
	return region, nil
}

func (a *Atlas) rasterize(plan GlyphPlan, key GlyphKey) (Region, error) {
	if int(plan.Face) >= len(a.faces) {
		return Region{}, fmt.Errorf("%w: %d", ErrUnknownFace, plan.Face)
	}
	face := a.faces[plan.Face]
	a.stats.Rasterizations++

	outline, ok := face.GlyphData(plan.GID).(font.GlyphOutline)
	if !ok || len(outline.Segments) == 0 {
		return Region{}, nil
	}

	perUnit := fixedToFloat(key.Size) / float32(face.Upem())

	// Outline coordinates are y-up font units; find the scaled pixel
	// bounding box first, then rasterize y-down relative to it.
	minX, minY := float32(math.Inf(1)), float32(math.Inf(1))
	maxX, maxY := float32(math.Inf(-1)), float32(math.Inf(-1))
	visit := func(p font.SegmentPoint) {
		x, y := p.X*perUnit, p.Y*perUnit
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	for _, seg := range outline.Segments {
		switch seg.Op {
		case ot.SegmentOpMoveTo, ot.SegmentOpLineTo:
			visit(seg.Args[0])
		case ot.SegmentOpQuadTo:
			visit(seg.Args[0])
			visit(seg.Args[1])
		case ot.SegmentOpCubeTo:
			visit(seg.Args[0])
			visit(seg.Args[1])
			visit(seg.Args[2])
		}
	}

	left := int(math.Floor(float64(minX)))
	top := int(math.Ceil(float64(maxY)))
	w := int(math.Ceil(float64(maxX))) - left
	h := top - int(math.Floor(float64(minY)))
	if w <= 0 || h <= 0 {
		return Region{}, nil
	}

	r := vector.NewRasterizer(w, h)
	r.DrawOp = draw.Src
	pen := func(p font.SegmentPoint) (float32, float32) {
		return p.X*perUnit - float32(left), float32(top) - p.Y*perUnit
	}
	for _, seg := range outline.Segments {
		switch seg.Op {
		case ot.SegmentOpMoveTo:
			x, y := pen(seg.Args[0])
			r.MoveTo(x, y)
		case ot.SegmentOpLineTo:
			x, y := pen(seg.Args[0])
			r.LineTo(x, y)
		case ot.SegmentOpQuadTo:
			cx, cy := pen(seg.Args[0])
			x, y := pen(seg.Args[1])
			r.QuadTo(cx, cy, x, y)
		case ot.SegmentOpCubeTo:
			c1x, c1y := pen(seg.Args[0])
			c2x, c2y := pen(seg.Args[1])
			x, y := pen(seg.Args[2])
			r.CubeTo(c1x, c1y, c2x, c2y, x, y)
		}
	}
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	rect, err := a.allocate(w+glyphPadding, h+glyphPadding)
	if err != nil {
		return Region{}, err
	}
	rect = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+w, rect.Min.Y+h)
	draw.Draw(a.img, rect, mask, image.Point{}, draw.Src)
	a.dirty = true

	return Region{Rect: rect, Left: left, Top: top}, nil
}

// allocate finds room for a w×h rectangle, growing the atlas in fixed
// increments when the shelves are full.
func (a *Atlas) allocate(w, h int) (image.Rectangle, error) {
	for {
		if rect, ok := a.tryAllocate(w, h); ok {
			a.stats.Allocations++
			return rect, nil
		}
		if err := a.grow(); err != nil {
			return image.Rectangle{}, err
		}
	}
}

func (a *Atlas) tryAllocate(w, h int) (image.Rectangle, bool) {
	bounds := a.img.Bounds()
	if w > bounds.Dx() {
		return image.Rectangle{}, false
	}
	for i := range a.shelves {
		s := &a.shelves[i]
		if h <= s.height && s.x+w <= bounds.Dx() {
			rect := image.Rect(s.x, s.y, s.x+w, s.y+h)
			s.x += w
			return rect, true
		}
	}
	// Open a new shelf. Rounding the height up lets later glyphs of
	// similar size reuse the row.
	shelfH := (h + 7) &^ 7
	if a.nextY+shelfH > bounds.Dy() {
		return image.Rectangle{}, false
	}
	a.shelves = append(a.shelves, shelf{y: a.nextY, height: shelfH, x: w})
	rect := image.Rect(0, a.nextY, w, a.nextY+h)
	a.nextY += shelfH
	return rect, true
}

func (a *Atlas) grow() error {
	bounds := a.img.Bounds()
	size := bounds.Dx() + atlasGrowth
	if size > a.maxSize {
		if bounds.Dx() >= a.maxSize {
			return ErrAtlasFull
		}
		size = a.maxSize
	}
	grown := image.NewAlpha(image.Rect(0, 0, size, size))
	draw.Draw(grown, bounds, a.img, image.Point{}, draw.Src)
	a.img = grown
	a.dirty = true
	return nil
}

// Image copies the atlas buffer out for upload if any glyphs were
// packed since the last call. It returns (nil, false) when nothing
// changed.
func (a *Atlas) Image() (*image.Alpha, bool) {
	if !a.dirty {
		return nil, false
	}
	a.dirty = false
	out := image.NewAlpha(a.img.Bounds())
	copy(out.Pix, a.img.Pix)
	return out, true
}

// DisplayGlyph is one screen-space quad referencing the atlas: position
// and size in device pixels plus the atlas rectangle to sample.
type DisplayGlyph struct {
	X, Y float32
	W, H float32

	UV image.Rectangle
}

// AppendLineGlyphs lays wrapped lines out from origin (x, y at the
// first baseline) and appends one quad per non-empty glyph, packing any
// glyph not yet in the atlas. lineHeightEm is the baseline-to-baseline
// distance in em.
func (a *Atlas) AppendLineGlyphs(dst []DisplayGlyph, lines []Line, sizePx, lineHeightEm float32, x, y float32) ([]DisplayGlyph, error) {
	lineAdvance := sizePx * lineHeightEm * a.scale
	penY := y
	for _, line := range lines {
		penX := x
		for _, g := range line.Glyphs {
			region, err := a.Glyph(g, sizePx)
			if err != nil {
				return dst, err
			}
			if !region.Empty() {
				dst = append(dst, DisplayGlyph{
					X:  penX + fixedToFloat(g.XOffset) + float32(region.Left),
					Y:  penY - fixedToFloat(g.YOffset) - float32(region.Top),
					W:  float32(region.Rect.Dx()),
					H:  float32(region.Rect.Dy()),
					UV: region.Rect,
				})
			}
			penX += fixedToFloat(g.XAdvance)
		}
		penY += lineAdvance
	}
	return dst, nil
}
