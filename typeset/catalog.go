// Package typeset shapes text into positioned glyphs and packs their
// rasterized outlines into a shared glyph atlas.
//
// The pipeline separates three concerns:
//
//   - Catalog: heavyweight, preloaded font storage. Resolves a logical
//     family (serif, sans-serif or a named family) plus variable-font
//     axis values to a concrete face. Built once per book.
//   - Shaper: converts UTF-8 runs into GlyphPlans using HarfBuzz-style
//     shaping (go-text/typesetting), with missing glyphs re-shaped
//     against ordered fallback faces and merged in place.
//   - Atlas: a shelf rectangle packer over a shared alpha buffer.
//     Rasterizes each (face, glyph, size) exactly once.
//
// Shaper and Atlas are created together by Catalog.CreateShaper and
// share one face table, so a GlyphPlan produced by the shaper addresses
// the same face inside the atlas.
package typeset

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"

	"github.com/go-text/typesetting/font"
	ot "github.com/go-text/typesetting/font/opentype"
)

// ErrNoFontFound is returned when no catalog entry carries the
// requested family. This is a configuration error and fatal at
// book-open time.
var ErrNoFontFound = errors.New("typeset: no font found for family")

// ErrUnknownFace is returned when a GlyphPlan references a face that
// was never registered with the shaper or atlas.
var ErrUnknownFace = errors.New("typeset: unknown face reference")

// Family selects a logical font family.
type Family struct {
	// Name is an explicit family name. Empty means use a generic
	// default selected by Generic.
	Name string

	// Generic picks the configured default family when Name is empty.
	Generic GenericFamily
}

// GenericFamily enumerates the logical defaults.
type GenericFamily uint8

const (
	// Serif is the default body family.
	Serif GenericFamily = iota

	// SansSerif is the default heading/UI family.
	SansSerif
)

// Variation is a named variable-font axis value, such as {"wght", 700}.
type Variation struct {
	Axis  string
	Value float32
}

// FontQuery resolves to one concrete face: a family plus the axis
// values to apply on variable font formats.
type FontQuery struct {
	Family     Family
	Variations []Variation
}

// FaceRef indexes a face in the table shared by a Shaper/Atlas pair.
type FaceRef uint32

type catalogEntry struct {
	families []string
	fnt      *font.Font
}

// Catalog is the preloaded font storage. Build one per book with
// NewCatalog, optionally load additional fonts, then call CreateShaper
// for each render configuration.
//
// Catalog is immutable after the last Load call and safe for
// concurrent reads.
type Catalog struct {
	entries   []catalogEntry
	fallbacks []*font.Font

	familySerif string
	familySans  string
}

// NewCatalog creates a catalog with the built-in fonts loaded and the
// platform's generic family defaults resolved. The platform decision is
// made exactly once here; the catalog never consults platform state
// again.
func NewCatalog() (*Catalog, error) {
	serif, sans := defaultFamilies(runtime.GOOS)
	c := &Catalog{familySerif: serif, familySans: sans}
	if err := c.loadBuiltinFonts(); err != nil {
		return nil, err
	}
	return c, nil
}

// defaultFamilies maps the platform to its generic family names.
func defaultFamilies(goos string) (serif, sans string) {
	switch goos {
	case "android":
		return "Noto Serif", "Roboto"
	default:
		return "Go", "Go"
	}
}

// SetSerifFamily overrides the family used for Family{Generic: Serif}.
func (c *Catalog) SetSerifFamily(name string) {
	c.familySerif = name
}

// SetSansSerifFamily overrides the family used for
// Family{Generic: SansSerif}.
func (c *Catalog) SetSansSerifFamily(name string) {
	c.familySans = name
}

// LoadFont parses TTF/OTF data and adds it to the catalog under its own
// family names.
func (c *Catalog) LoadFont(data []byte) error {
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("typeset: parse font: %w", err)
	}
	desc := face.Describe()
	c.entries = append(c.entries, catalogEntry{
		families: []string{desc.Family},
		fnt:      face.Font,
	})
	return nil
}

// LoadFallback parses font data and appends it to the ordered fallback
// list consulted for glyphs the primary face cannot provide.
func (c *Catalog) LoadFallback(data []byte) error {
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("typeset: parse fallback font: %w", err)
	}
	c.fallbacks = append(c.fallbacks, face.Font)
	return nil
}

// resolveFamily returns the concrete family name for a query.
func (c *Catalog) resolveFamily(f Family) string {
	if f.Name != "" {
		return f.Name
	}
	if f.Generic == SansSerif {
		return c.familySans
	}
	return c.familySerif
}

func (c *Catalog) findEntry(family string) (*catalogEntry, bool) {
	for i := range c.entries {
		for _, name := range c.entries[i].families {
			if name == family {
				return &c.entries[i], true
			}
		}
	}
	return nil, false
}

// CreateShaper resolves each query to a face and returns the face refs
// together with a Shaper/Atlas pair sharing one face table. The
// fallback faces are appended after the queried faces so GlyphPlans can
// reference them uniformly.
//
// scaleFactor is the device scale; all shaped advances and rasterized
// glyphs come out in device pixels. An unresolvable family yields
// ErrNoFontFound.
func (c *Catalog) CreateShaper(scaleFactor float32, queries []FontQuery) ([]FaceRef, *Shaper, *Atlas, error) {
	faces := make([]*font.Face, 0, len(queries)+len(c.fallbacks))
	refs := make([]FaceRef, 0, len(queries))

	for _, q := range queries {
		family := c.resolveFamily(q.Family)
		entry, ok := c.findEntry(family)
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %q", ErrNoFontFound, family)
		}
		face := font.NewFace(entry.fnt)
		if len(q.Variations) > 0 {
			face.SetVariations(variations(q.Variations))
		}
		refs = append(refs, FaceRef(len(faces)))
		faces = append(faces, face)
	}

	var fallbackRefs []FaceRef
	for _, fnt := range c.fallbacks {
		fallbackRefs = append(fallbackRefs, FaceRef(len(faces)))
		faces = append(faces, font.NewFace(fnt))
	}

	shaper := newShaper(scaleFactor, faces, fallbackRefs)
	atlas := newAtlas(scaleFactor, faces, maxAtlasSize)
	return refs, shaper, atlas, nil
}

// variations converts axis/value pairs to typesetting variations.
// Axis names must be 4 bytes ("wght", "ital"); anything else is
// dropped. Axes the font does not expose are ignored when applied,
// matching variable-font semantics.
func variations(vars []Variation) []font.Variation {
	out := make([]font.Variation, 0, len(vars))
	for _, v := range vars {
		if len(v.Axis) != 4 {
			continue
		}
		tag := ot.NewTag(v.Axis[0], v.Axis[1], v.Axis[2], v.Axis[3])
		out = append(out, font.Variation{Tag: tag, Value: v.Value})
	}
	return out
}
