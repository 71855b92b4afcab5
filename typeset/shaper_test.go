package typeset

import (
	"errors"
	"testing"

	"golang.org/x/image/math/fixed"
)

// newTestShaper builds a catalog with the built-in fonts and returns a
// serif face plus its shaper and atlas at scale 1.
func newTestShaper(t *testing.T) (FaceRef, *Shaper, *Atlas) {
	t.Helper()
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	refs, shaper, atlas, err := c.CreateShaper(1.0, []FontQuery{
		{Family: Family{Generic: Serif}},
	})
	if err != nil {
		t.Fatalf("CreateShaper: %v", err)
	}
	return refs[0], shaper, atlas
}

func TestCatalogResolvesGenericFamilies(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatal(err)
	}
	refs, shaper, atlas, err := c.CreateShaper(2.0, []FontQuery{
		{Family: Family{Generic: Serif}},
		{Family: Family{Generic: SansSerif}},
		{Family: Family{Name: "Go Bold"}},
	})
	if err != nil {
		t.Fatalf("CreateShaper: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %d, want 3", len(refs))
	}
	if shaper == nil || atlas == nil {
		t.Fatal("nil shaper or atlas")
	}
	if got := shaper.Scale(); got != 2.0 {
		t.Errorf("Scale() = %v, want 2.0", got)
	}
}

func TestCatalogUnknownFamilyIsError(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, err = c.CreateShaper(1.0, []FontQuery{
		{Family: Family{Name: "No Such Family"}},
	})
	if !errors.Is(err, ErrNoFontFound) {
		t.Errorf("err = %v, want ErrNoFontFound", err)
	}
}

func TestCatalogFamilyOverride(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatal(err)
	}
	c.SetSerifFamily("Go Italic")
	if _, _, _, err := c.CreateShaper(1.0, []FontQuery{
		{Family: Family{Generic: Serif}},
	}); err != nil {
		t.Errorf("override to Go Italic failed: %v", err)
	}
	c.SetSerifFamily("Missing")
	if _, _, _, err := c.CreateShaper(1.0, []FontQuery{
		{Family: Family{Generic: Serif}},
	}); !errors.Is(err, ErrNoFontFound) {
		t.Errorf("err = %v, want ErrNoFontFound", err)
	}
}

func TestShapeRun(t *testing.T) {
	ref, shaper, _ := newTestShaper(t)
	run, err := shaper.ShapeRun(ref, 18, "Hello, world")
	if err != nil {
		t.Fatalf("ShapeRun: %v", err)
	}
	if len(run.Glyphs) == 0 {
		t.Fatal("no glyphs shaped")
	}
	if run.Advance() <= 0 {
		t.Errorf("advance = %v, want > 0", run.Advance())
	}
	for i, g := range run.Glyphs {
		if g.GID == 0 {
			t.Errorf("glyph %d unresolved", i)
		}
		if g.Cluster < 0 || g.Cluster >= len(run.Text) {
			t.Errorf("glyph %d cluster %d outside text of %d runes", i, g.Cluster, len(run.Text))
		}
	}
}

func TestShapeRunUnknownFace(t *testing.T) {
	_, shaper, _ := newTestShaper(t)
	if _, err := shaper.ShapeRun(FaceRef(99), 18, "x"); !errors.Is(err, ErrUnknownFace) {
		t.Errorf("err = %v, want ErrUnknownFace", err)
	}
}

func TestShapeRunNormalizesInput(t *testing.T) {
	ref, shaper, _ := newTestShaper(t)
	// "e" plus combining acute must normalize to the single rune U+00E9.
	run, err := shaper.ShapeRun(ref, 18, "é")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Text) != 1 || run.Text[0] != 'é' {
		t.Errorf("normalized text = %q, want [é]", string(run.Text))
	}
}

func TestShapeRunConcatenatesInputs(t *testing.T) {
	ref, shaper, _ := newTestShaper(t)
	parts, err := shaper.ShapeRun(ref, 18, "ab", "cd")
	if err != nil {
		t.Fatal(err)
	}
	whole, err := shaper.ShapeRun(ref, 18, "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if parts.Advance() != whole.Advance() {
		t.Errorf("split advance %v != whole advance %v", parts.Advance(), whole.Advance())
	}
}

func TestShapeRunScaleAffectsAdvance(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatal(err)
	}
	refs, s1, _, err := c.CreateShaper(1.0, []FontQuery{{Family: Family{Generic: Serif}}})
	if err != nil {
		t.Fatal(err)
	}
	_, s2, _, err := c.CreateShaper(2.0, []FontQuery{{Family: Family{Generic: Serif}}})
	if err != nil {
		t.Fatal(err)
	}
	a, err := s1.ShapeRun(refs[0], 18, "measure")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s2.ShapeRun(refs[0], 18, "measure")
	if err != nil {
		t.Fatal(err)
	}
	if b.Advance() <= a.Advance() {
		t.Errorf("scale 2 advance %v not larger than scale 1 advance %v", b.Advance(), a.Advance())
	}
}

func TestShapeRunMissingGlyphKeepsPosition(t *testing.T) {
	ref, shaper, _ := newTestShaper(t)
	// The Go fonts carry no CJK coverage, so the middle rune stays
	// unresolved after fallback. The glyph sequence must keep its slot.
	run, err := shaper.ShapeRun(ref, 18, "a中b")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Glyphs) != 3 {
		t.Fatalf("glyphs = %d, want 3", len(run.Glyphs))
	}
	for i := 1; i < len(run.Glyphs); i++ {
		if run.Glyphs[i].Cluster < run.Glyphs[i-1].Cluster {
			t.Errorf("clusters out of order at %d", i)
		}
	}
}

func TestLineMetrics(t *testing.T) {
	ref, shaper, _ := newTestShaper(t)
	ascent, descent, _, err := shaper.LineMetrics(ref, 18)
	if err != nil {
		t.Fatal(err)
	}
	if ascent <= 0 {
		t.Errorf("ascent = %v, want > 0", ascent)
	}
	if descent <= 0 {
		t.Errorf("descent = %v, want > 0", descent)
	}
	big, _, _, err := shaper.LineMetrics(ref, 36)
	if err != nil {
		t.Fatal(err)
	}
	if big <= ascent {
		t.Errorf("ascent at 36px (%v) not larger than at 18px (%v)", big, ascent)
	}
}

// syntheticRun builds a run with one glyph per rune and a uniform
// advance, so line breaking tests are independent of font metrics.
func syntheticRun(text string, advance fixed.Int26_6) *Run {
	runes := []rune(text)
	run := &Run{Face: 0, SizePx: 16, Text: runes}
	for i := range runes {
		run.Glyphs = append(run.Glyphs, GlyphPlan{
			GID:      1,
			Cluster:  i,
			XAdvance: advance,
		})
	}
	return run
}

func TestBreakLines(t *testing.T) {
	adv := fixed.I(10)
	tests := []struct {
		name     string
		text     string
		maxWidth fixed.Int26_6
		want     int
	}{
		{"fits on one line", "aa bb", fixed.I(100), 1},
		{"wraps between words", "aa bb cc", fixed.I(25), 3},
		{"two words per line", "aa bb cc dd", fixed.I(55), 2},
		{"overlong word gets own line", "a ffffffff b", fixed.I(30), 3},
		{"no wrapping when width unset", "aa bb cc dd", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := syntheticRun(tt.text, adv)
			lines := BreakLines(run, tt.maxWidth)
			if len(lines) != tt.want {
				t.Fatalf("lines = %d, want %d", len(lines), tt.want)
			}
			total := 0
			for _, l := range lines {
				total += len(l.Glyphs)
			}
			if total != len(run.Glyphs) {
				t.Errorf("glyphs across lines = %d, want %d", total, len(run.Glyphs))
			}
		})
	}
}

func TestBreakLinesNewlineForcesBreak(t *testing.T) {
	run := syntheticRun("ab\ncd", fixed.I(10))
	lines := BreakLines(run, fixed.I(1000))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if got := len(lines[1].Glyphs); got != 2 {
		t.Errorf("second line glyphs = %d, want 2", got)
	}
}

func TestBreakLinesEmptyRun(t *testing.T) {
	if lines := BreakLines(&Run{}, fixed.I(100)); lines != nil {
		t.Errorf("lines = %v, want nil", lines)
	}
}
