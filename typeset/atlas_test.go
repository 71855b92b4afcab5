package typeset

import (
	"testing"

	"golang.org/x/image/math/fixed"
)

func TestAtlasRasterizesEachGlyphOnce(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, "mm")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Glyphs) != 2 {
		t.Fatalf("glyphs = %d, want 2", len(run.Glyphs))
	}

	first, err := atlas.Glyph(run.Glyphs[0], 18)
	if err != nil {
		t.Fatal(err)
	}
	second, err := atlas.Glyph(run.Glyphs[1], 18)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same glyph at same size mapped to different regions: %v vs %v", first, second)
	}

	stats := atlas.Stats()
	if stats.Rasterizations != 1 {
		t.Errorf("rasterizations = %d, want 1", stats.Rasterizations)
	}
	if stats.Allocations != 1 {
		t.Errorf("allocations = %d, want 1", stats.Allocations)
	}
	if stats.Lookups != 2 {
		t.Errorf("lookups = %d, want 2", stats.Lookups)
	}
}

func TestAtlasDistinctSizesPackSeparately(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, "g")
	if err != nil {
		t.Fatal(err)
	}
	small, err := atlas.Glyph(run.Glyphs[0], 18)
	if err != nil {
		t.Fatal(err)
	}
	large, err := atlas.Glyph(run.Glyphs[0], 36)
	if err != nil {
		t.Fatal(err)
	}
	if small.Rect == large.Rect {
		t.Error("different sizes share one atlas region")
	}
	if large.Rect.Dy() <= small.Rect.Dy() {
		t.Errorf("36px glyph (%d high) not taller than 18px glyph (%d high)",
			large.Rect.Dy(), small.Rect.Dy())
	}
}

func TestAtlasBlankGlyphAllocatesNothing(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, " ")
	if err != nil {
		t.Fatal(err)
	}
	region, err := atlas.Glyph(run.Glyphs[0], 18)
	if err != nil {
		t.Fatal(err)
	}
	if !region.Empty() {
		t.Errorf("space glyph region = %v, want empty", region.Rect)
	}
	if got := atlas.Stats().Allocations; got != 0 {
		t.Errorf("allocations = %d, want 0", got)
	}
}

func TestAtlasImageOnlyWhenDirty(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	if _, ok := atlas.Image(); ok {
		t.Fatal("fresh atlas reported dirty")
	}

	run, err := shaper.ShapeRun(ref, 18, "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := atlas.Glyph(run.Glyphs[0], 18); err != nil {
		t.Fatal(err)
	}
	img, ok := atlas.Image()
	if !ok || img == nil {
		t.Fatal("no image after packing a glyph")
	}
	if _, ok := atlas.Image(); ok {
		t.Error("image regenerated with no new glyphs")
	}

	// A re-request of a cached glyph must not dirty the buffer either.
	if _, err := atlas.Glyph(run.Glyphs[0], 18); err != nil {
		t.Fatal(err)
	}
	if _, ok := atlas.Image(); ok {
		t.Error("cached glyph re-request dirtied the atlas")
	}

	if _, err := atlas.Glyph(run.Glyphs[0], 36); err != nil {
		t.Fatal(err)
	}
	if _, ok := atlas.Image(); !ok {
		t.Error("new glyph size did not dirty the atlas")
	}
}

func TestAtlasPackedGlyphHasCoverage(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, "M")
	if err != nil {
		t.Fatal(err)
	}
	region, err := atlas.Glyph(run.Glyphs[0], 18)
	if err != nil {
		t.Fatal(err)
	}
	img, ok := atlas.Image()
	if !ok {
		t.Fatal("no atlas image")
	}
	var sum int
	for y := region.Rect.Min.Y; y < region.Rect.Max.Y; y++ {
		for x := region.Rect.Min.X; x < region.Rect.Max.X; x++ {
			sum += int(img.AlphaAt(x, y).A)
		}
	}
	if sum == 0 {
		t.Error("packed glyph region is fully transparent")
	}
}

func TestAtlasShelfPacking(t *testing.T) {
	a := newAtlas(1.0, nil, 64)
	r1, err := a.allocate(20, 10)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := a.allocate(20, 10)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Min.Y != r2.Min.Y {
		t.Errorf("same-height rects on different shelves: %v vs %v", r1, r2)
	}
	if r2.Min.X != r1.Max.X {
		t.Errorf("second rect at x=%d, want packed against %d", r2.Min.X, r1.Max.X)
	}
	r3, err := a.allocate(40, 30)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Min.Y <= r1.Min.Y {
		t.Errorf("taller rect not on a lower shelf: %v", r3)
	}
}

func TestAtlasFullAtMaxSize(t *testing.T) {
	a := newAtlas(1.0, nil, 64)
	if _, err := a.allocate(60, 60); err != nil {
		t.Fatal(err)
	}
	if _, err := a.allocate(60, 60); err != ErrAtlasFull {
		t.Errorf("err = %v, want ErrAtlasFull", err)
	}
}

func TestAtlasGrows(t *testing.T) {
	a := newAtlas(1.0, nil, maxAtlasSize)
	w0, _ := a.Size()
	if w0 != initialAtlasSize {
		t.Fatalf("initial size = %d, want %d", w0, initialAtlasSize)
	}
	// Fill the first buffer with full-width shelves, then one more
	// allocation must grow it by one increment.
	for y := 0; y < initialAtlasSize; y += 64 {
		if _, err := a.allocate(initialAtlasSize, 64); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.allocate(100, 100); err != nil {
		t.Fatal(err)
	}
	w1, h1 := a.Size()
	if w1 != initialAtlasSize+atlasGrowth || h1 != w1 {
		t.Errorf("grown size = %dx%d, want %dx%d", w1, h1,
			initialAtlasSize+atlasGrowth, initialAtlasSize+atlasGrowth)
	}
}

func TestAppendLineGlyphs(t *testing.T) {
	ref, shaper, atlas := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, "two words here to wrap")
	if err != nil {
		t.Fatal(err)
	}
	lines := BreakLines(run, fixed.I(80))
	if len(lines) < 2 {
		t.Fatalf("lines = %d, want at least 2", len(lines))
	}
	quads, err := atlas.AppendLineGlyphs(nil, lines, 18, 1.5, 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(quads) == 0 {
		t.Fatal("no quads produced")
	}
	minY, maxY := quads[0].Y, quads[0].Y
	for _, q := range quads {
		minY = min(minY, q.Y)
		maxY = max(maxY, q.Y)
	}
	if maxY-minY < 18 {
		t.Errorf("quads span %v vertically, want at least one line advance", maxY-minY)
	}
}
