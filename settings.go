// Package scribble renders zipped reflowable e-books into fixed pages.
//
// A Reader owns one book: it parses chapters into markup trees, lays
// them out with flexbox flow, shapes and rasterizes text through a
// shared glyph atlas, and splits the result into pages held in a small
// chapter cache. All work happens on one worker goroutine per book;
// the host drives it with fire-and-forget requests and consumes
// content-ready notifications, painting from read-only snapshots.
package scribble

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RenderSettings is the immutable style snapshot of one render
// configuration. Page dimensions arrive in device pixels; ScaleFactor
// maps the em-based paddings and font sizes onto them. Any change
// invalidates every rendered page.
type RenderSettings struct {
	PageWidth   uint32  `toml:"page_width"`
	PageHeight  uint32  `toml:"page_height"`
	ScaleFactor float32 `toml:"scale_factor"`

	FontSizePx float32 `toml:"font_size_px"`
	LineHeight float32 `toml:"line_height"`

	// H1 through H5 scale the body font size for headings. h6 renders
	// at body size.
	H1 float32 `toml:"h1"`
	H2 float32 `toml:"h2"`
	H3 float32 `toml:"h3"`
	H4 float32 `toml:"h4"`
	H5 float32 `toml:"h5"`

	PaddingTopEm    float32 `toml:"padding_top_em"`
	PaddingBottomEm float32 `toml:"padding_bottom_em"`
	PaddingLeftEm   float32 `toml:"padding_left_em"`
	PaddingRightEm  float32 `toml:"padding_right_em"`

	// ParagraphEm is the vertical gap after paragraph-level blocks.
	ParagraphEm float32 `toml:"paragraph_em"`

	// Font family names. Empty selects the platform's generic serif
	// (body) or sans-serif defaults.
	BodyFont   string `toml:"body_font"`
	BoldFont   string `toml:"bold_font"`
	ItalicFont string `toml:"italic_font"`
}

// DefaultSettings returns the settings used when no config file
// overrides them.
func DefaultSettings() RenderSettings {
	return RenderSettings{
		PageWidth:       600,
		PageHeight:      800,
		ScaleFactor:     1.0,
		FontSizePx:      18,
		LineHeight:      1.5,
		H1:              3.0,
		H2:              2.5,
		H3:              2.0,
		H4:              1.7,
		H5:              1.4,
		PaddingTopEm:    1.0,
		PaddingBottomEm: 1.0,
		PaddingLeftEm:   1.5,
		PaddingRightEm:  1.5,
		ParagraphEm:     0.5,
	}
}

// LoadSettings reads a TOML config file's [render] table over the
// defaults. A missing file yields the defaults.
func LoadSettings(path string) (RenderSettings, error) {
	var file struct {
		Render RenderSettings `toml:"render"`
	}
	file.Render = DefaultSettings()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return file.Render, nil
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return RenderSettings{}, fmt.Errorf("scribble: load settings %s: %w", path, err)
	}
	return file.Render, nil
}

// headingScale maps the per-level multipliers into the layout table.
func (s RenderSettings) headingScale() [6]float32 {
	return [6]float32{s.H1, s.H2, s.H3, s.H4, s.H5, 1.0}
}

// contentBox returns the padded content size in device pixels. The
// page dimensions are already device pixels; only the em paddings are
// scaled.
func (s RenderSettings) contentBox() (w, h float32) {
	w = float32(s.PageWidth) - (s.PaddingLeftEm+s.PaddingRightEm)*s.FontSizePx*s.ScaleFactor
	h = float32(s.PageHeight) - (s.PaddingTopEm+s.PaddingBottomEm)*s.FontSizePx*s.ScaleFactor
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return w, h
}
