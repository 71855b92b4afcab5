package typeset

import (
	"fmt"
	"unicode"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"
)

// GlyphPlan is one positioned glyph produced by shaping: the face it
// came from, the glyph id, and the shaping-derived advance and offset
// scaled to device pixels. GlyphPlans are ephemeral; they are
// recomputed on every shaping call and never persisted.
type GlyphPlan struct {
	Face    FaceRef
	GID     font.GID
	Cluster int

	XAdvance fixed.Int26_6
	XOffset  fixed.Int26_6
	YOffset  fixed.Int26_6
}

// Run is the shaped form of one same-styled text run: the glyph
// sequence plus the normalized rune slice glyph clusters index into.
type Run struct {
	Face   FaceRef
	SizePx float32
	Text   []rune
	Glyphs []GlyphPlan
}

// Advance returns the total horizontal advance of the run.
func (r *Run) Advance() fixed.Int26_6 {
	var sum fixed.Int26_6
	for i := range r.Glyphs {
		sum += r.Glyphs[i].XAdvance
	}
	return sum
}

// planKey identifies a cached shaper instance. HarfBuzz shape plans
// depend on face, direction, script and language; keeping one shaper
// per tuple reuses its internal plan and buffers across calls.
type planKey struct {
	face   FaceRef
	dir    di.Direction
	script language.Script
	lang   language.Language
}

// Shaper converts UTF-8 runs into GlyphPlans. It owns the face table
// shared with its Atlas and an ordered fallback face list for glyphs
// the primary face is missing.
//
// Shaper is not safe for concurrent use; the worker serializes access
// behind the engine's font lock.
type Shaper struct {
	scale    float32
	faces    []*font.Face
	fallback []FaceRef
	plans    map[planKey]*shaping.HarfbuzzShaper
}

func newShaper(scale float32, faces []*font.Face, fallback []FaceRef) *Shaper {
	return &Shaper{
		scale:    scale,
		faces:    faces,
		fallback: fallback,
		plans:    make(map[planKey]*shaping.HarfbuzzShaper),
	}
}

// Scale returns the device scale factor the shaper was created with.
func (s *Shaper) Scale() float32 {
	return s.scale
}

func (s *Shaper) face(ref FaceRef) (*font.Face, error) {
	if int(ref) >= len(s.faces) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFace, ref)
	}
	return s.faces[ref], nil
}

func (s *Shaper) plan(key planKey) *shaping.HarfbuzzShaper {
	hb, ok := s.plans[key]
	if !ok {
		hb = &shaping.HarfbuzzShaper{}
		s.plans[key] = hb
	}
	return hb
}

// ShapeRun shapes one or more same-styled strings as a single run at
// sizePx (logical pixels; the device scale factor is applied
// internally). Glyphs the face cannot provide are re-shaped against
// the fallback faces and substituted in place.
func (s *Shaper) ShapeRun(ref FaceRef, sizePx float32, inputs ...string) (*Run, error) {
	if _, err := s.face(ref); err != nil {
		return nil, err
	}

	var runes []rune
	for _, in := range inputs {
		runes = append(runes, []rune(norm.NFC.String(in))...)
	}
	run := &Run{Face: ref, SizePx: sizePx, Text: runes}
	if len(runes) == 0 {
		return run, nil
	}

	glyphs, err := s.shape(ref, sizePx, runes, 0)
	if err != nil {
		return nil, err
	}
	run.Glyphs = glyphs

	var invalid []int
	for i := range glyphs {
		if glyphs[i].GID == 0 {
			invalid = append(invalid, i)
		}
	}
	if len(invalid) > 0 {
		s.shapeFallback(run, invalid)
	}
	return run, nil
}

// shape runs one face over a contiguous rune slice. clusterBase offsets
// the reported cluster indexes, used when re-shaping sub-runs.
func (s *Shaper) shape(ref FaceRef, sizePx float32, runes []rune, clusterBase int) ([]GlyphPlan, error) {
	face, err := s.face(ref)
	if err != nil {
		return nil, err
	}

	script := detectScript(runes)
	lang := language.NewLanguage("en")
	key := planKey{face: ref, dir: di.DirectionLTR, script: script, lang: lang}

	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: di.DirectionLTR,
		Face:      face,
		Size:      floatToFixed(sizePx * s.scale),
		Script:    script,
		Language:  lang,
	}

	out := s.plan(key).Shape(input)
	glyphs := make([]GlyphPlan, len(out.Glyphs))
	for i, g := range out.Glyphs {
		glyphs[i] = GlyphPlan{
			Face:     ref,
			GID:      g.GlyphID,
			Cluster:  clusterBase + g.TextIndex(),
			XAdvance: g.Advance,
			XOffset:  g.XOffset,
			YOffset:  g.YOffset,
		}
	}
	return glyphs, nil
}

// shapeFallback re-shapes the runes behind still-invalid glyph
// positions against each fallback face in order, substituting only the
// invalid positions — a merge into the existing glyph sequence, not a
// restart.
func (s *Shaper) shapeFallback(run *Run, invalid []int) {
	for _, ref := range s.fallback {
		if len(invalid) == 0 {
			return
		}
		remaining := invalid[:0]
		for _, idx := range invalid {
			cluster := run.Glyphs[idx].Cluster
			if cluster < 0 || cluster >= len(run.Text) {
				continue
			}
			sub, err := s.shape(ref, run.SizePx, run.Text[cluster:cluster+1], cluster)
			if err != nil || len(sub) != 1 || sub[0].GID == 0 {
				remaining = append(remaining, idx)
				continue
			}
			run.Glyphs[idx] = sub[0]
		}
		invalid = remaining
	}
}

// LineMetrics returns the scaled ascent, descent and line gap of a
// face at sizePx, in device pixels.
func (s *Shaper) LineMetrics(ref FaceRef, sizePx float32) (ascent, descent, gap fixed.Int26_6, err error) {
	face, err := s.face(ref)
	if err != nil {
		return 0, 0, 0, err
	}
	extents, ok := face.FontHExtents()
	if !ok {
		// Fall back to size-derived defaults when the font omits hhea
		// metrics.
		size := sizePx * s.scale
		return floatToFixed(size * 0.8), floatToFixed(size * 0.2), 0, nil
	}
	perUnit := sizePx * s.scale / float32(face.Upem())
	ascent = floatToFixed(extents.Ascender * perUnit)
	descent = floatToFixed(-extents.Descender * perUnit)
	gap = floatToFixed(extents.LineGap * perUnit)
	return ascent, descent, gap, nil
}

// detectScript inspects the runes and returns the script of the first
// non-space character. E-book runs are split per element, so one
// script per run is a workable assumption.
func detectScript(runes []rune) language.Script {
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		return language.LookupScript(r)
	}
	return language.Latin
}

// floatToFixed converts a float32 pixel value to fixed.Int26_6.
func floatToFixed(v float32) fixed.Int26_6 {
	return fixed.Int26_6(v * 64)
}

// fixedToFloat converts a fixed.Int26_6 value to float32 pixels.
func fixedToFloat(v fixed.Int26_6) float32 {
	return float32(v) / 64
}
