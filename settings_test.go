package scribble

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsMissingFileYieldsDefaults(t *testing.T) {
	got, err := LoadSettings(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", got)
	}
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	config := `
[render]
page_width = 900
font_size_px = 20.0
body_font = "Go"
`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.PageWidth != 900 {
		t.Errorf("page width = %d, want 900", got.PageWidth)
	}
	if got.FontSizePx != 20 {
		t.Errorf("font size = %g, want 20", got.FontSizePx)
	}
	if got.BodyFont != "Go" {
		t.Errorf("body font = %q, want Go", got.BodyFont)
	}
	// Keys the file does not mention keep their defaults.
	if got.PageHeight != 800 || got.LineHeight != 1.5 || got.H1 != 3.0 {
		t.Errorf("untouched keys changed: %+v", got)
	}
}

func TestLoadSettingsRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[render\npage_width ="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("malformed config did not fail")
	}
}

func TestContentBoxAppliesPaddingAndScale(t *testing.T) {
	s := DefaultSettings()
	w, h := s.contentBox()
	// 600 - 3em of 18px horizontally, 800 - 2em vertically.
	if w != 546 || h != 764 {
		t.Errorf("content box = %gx%g, want 546x764", w, h)
	}

	// Page dimensions are device pixels already; scaling only widens
	// the em paddings.
	s.ScaleFactor = 2
	w, h = s.contentBox()
	if w != 492 || h != 728 {
		t.Errorf("scaled content box = %gx%g, want 492x728", w, h)
	}
}

func TestHeadingScaleEndsAtBodySize(t *testing.T) {
	scale := DefaultSettings().headingScale()
	if scale[0] != 3.0 || scale[5] != 1.0 {
		t.Errorf("heading scale = %v", scale)
	}
}
