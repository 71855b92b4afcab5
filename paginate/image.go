package paginate

import (
	"bytes"
	"fmt"
	"image"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"github.com/ksonny/scribble-reader/markup"
)

func (w *walker) diagf(format string, args ...any) {
	w.diags = append(w.diags, fmt.Sprintf(format, args...))
}

// resolvePath resolves an in-archive reference relative to the
// chapter's directory. Leading slashes address the archive root.
func resolvePath(baseDir, ref string) string {
	if strings.HasPrefix(ref, "/") {
		return path.Clean(ref[1:])
	}
	return path.Clean(path.Join(baseDir, ref))
}

// fit breaks the page if needed and returns the display size and
// page-relative y for content with the given natural pixel size. The
// scale fits the page width and the space remaining below y, and never
// exceeds 1.
func (w *walker) fit(naturalW, naturalH, y float32) (dispW, dispH, pageY float32) {
	scale := float32(1)
	if naturalW > w.in.PageWidth {
		scale = w.in.PageWidth / naturalW
	}
	if naturalH*scale > w.remaining(y) && y > w.pageTop {
		w.breakPage(y)
	}
	if rem := w.remaining(y); naturalH*scale > rem {
		scale = rem / naturalH
	}
	return naturalW * scale, naturalH * scale, y - w.pageTop
}

func (w *walker) cachedImage(resolved string) (image.Image, bool) {
	if w.in.Images == nil {
		return nil, false
	}
	return w.in.Images.Get(resolved)
}

// emitImage decodes an img element's resource, scales it to fit and
// appends it as an image item. Failures are diagnostics, not errors.
func (w *walker) emitImage(el *markup.Element, x, y float32) {
	if w.in.Resources == nil {
		return
	}
	src := el.Attr("src")
	if src == "" {
		w.diagf("img element without src")
		return
	}
	if strings.Contains(src, "://") || strings.HasPrefix(src, "data:") {
		w.diagf("img src %q is not an archive path", src)
		return
	}
	resolved := resolvePath(w.in.BaseDir, src)
	decoded, ok := w.cachedImage(resolved)
	if !ok {
		data, err := w.in.Resources.Resource(resolved)
		if err != nil {
			w.diagf("img %q: %v", src, err)
			return
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			w.diagf("img %q: decode: %v", src, err)
			return
		}
		decoded = img
		if w.in.Images != nil {
			w.in.Images.Add(resolved, decoded)
		}
	}

	bounds := decoded.Bounds()
	dispW, dispH, pageY := w.fit(float32(bounds.Dx()), float32(bounds.Dy()), y)
	iw, ih := int(dispW+0.5), int(dispH+0.5)
	if iw <= 0 || ih <= 0 {
		w.diagf("img %q: no room on page", src)
		return
	}

	dst := image.NewRGBA(image.Rect(0, 0, iw, ih))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), decoded, bounds, xdraw.Src, nil)

	w.cur.Items = append(w.cur.Items, DisplayItem{
		Kind:  ItemImage,
		X:     x,
		Y:     pageY,
		Image: &ImageItem{Pixels: dst, W: dispW, H: dispH},
	})
}
