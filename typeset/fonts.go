package typeset

import (
	"bytes"
	"fmt"

	"github.com/go-text/typesetting/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

// loadBuiltinFonts seeds the catalog with the Go font family so a
// catalog is usable before any book or user fonts are loaded. Each
// entry is registered under the name the font declares plus the alias
// the settings layer uses. Go Mono doubles as the last-resort fallback
// face.
func (c *Catalog) loadBuiltinFonts() error {
	builtins := []struct {
		data  []byte
		alias string
	}{
		{goregular.TTF, "Go"},
		{gobold.TTF, "Go Bold"},
		{goitalic.TTF, "Go Italic"},
	}
	for _, b := range builtins {
		face, err := font.ParseTTF(bytes.NewReader(b.data))
		if err != nil {
			return fmt.Errorf("typeset: parse builtin font %q: %w", b.alias, err)
		}
		families := []string{face.Describe().Family}
		if families[0] != b.alias {
			families = append(families, b.alias)
		}
		c.entries = append(c.entries, catalogEntry{families: families, fnt: face.Font})
	}
	return c.LoadFallback(gomono.TTF)
}
