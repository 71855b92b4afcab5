package paginate

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"image"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/ksonny/scribble-reader/markup"
)

// emitSVG re-serializes the svg subtree, rasterizes it at a
// fit-to-remaining-page scale and appends it as an image item. The
// element indexes treat the whole subtree as one content element, so
// nothing inside it is walked again by the caller.
func (w *walker) emitSVG(id markup.NodeID, x, y float32) {
	text, ok := w.serializeSVG(id)
	if !ok {
		return
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(text))
	if err != nil {
		w.diagf("svg node %d: %v", id, err)
		return
	}
	naturalW, naturalH := float32(icon.ViewBox.W), float32(icon.ViewBox.H)
	if naturalW <= 0 || naturalH <= 0 {
		w.diagf("svg node %d: no usable viewbox", id)
		return
	}

	dispW, dispH, pageY := w.fit(naturalW, naturalH, y)
	iw, ih := int(dispW+0.5), int(dispH+0.5)
	if iw <= 0 || ih <= 0 {
		w.diagf("svg node %d: no room on page", id)
		return
	}

	icon.SetTarget(0, 0, float64(dispW), float64(dispH))
	pixels := image.NewRGBA(image.Rect(0, 0, iw, ih))
	scanner := rasterx.NewScannerGV(iw, ih, pixels, pixels.Bounds())
	icon.Draw(rasterx.NewDasher(iw, ih, scanner), 1.0)

	w.cur.Items = append(w.cur.Items, DisplayItem{
		Kind:  ItemImage,
		X:     x,
		Y:     pageY,
		Image: &ImageItem{Pixels: pixels, W: dispW, H: dispH},
	})
}

// The markup tokenizer lowercases tag and attribute names per HTML
// rules, but svg is case sensitive. These tables restore the canonical
// casing on the way back out, mirroring the HTML5 foreign-content
// adjustment lists.
var svgTagCase = map[string]string{
	"lineargradient": "linearGradient",
	"radialgradient": "radialGradient",
	"clippath":       "clipPath",
	"textpath":       "textPath",
	"foreignobject":  "foreignObject",
}

var svgAttrCase = map[string]string{
	"viewbox":             "viewBox",
	"preserveaspectratio": "preserveAspectRatio",
	"gradientunits":       "gradientUnits",
	"gradienttransform":   "gradientTransform",
	"patternunits":        "patternUnits",
	"patterntransform":    "patternTransform",
	"patterncontentunits": "patternContentUnits",
	"spreadmethod":        "spreadMethod",
	"stddeviation":        "stdDeviation",
	"clippathunits":       "clipPathUnits",
	"markerwidth":         "markerWidth",
	"markerheight":        "markerHeight",
	"markerunits":         "markerUnits",
	"refx":                "refX",
	"refy":                "refY",
	"textlength":          "textLength",
	"lengthadjust":        "lengthAdjust",
}

func svgTagName(name string) string {
	if canonical, ok := svgTagCase[name]; ok {
		return canonical
	}
	return name
}

func svgAttrName(name string) string {
	if canonical, ok := svgAttrCase[name]; ok {
		return canonical
	}
	return name
}

// serializeSVG writes the subtree back out as standalone svg markup,
// inlining referenced raster images as data URIs so the rasterizer
// needs no archive access.
func (w *walker) serializeSVG(id markup.NodeID) (string, bool) {
	root := w.in.Tree.Element(id)
	if root == nil {
		return "", false
	}
	var sb strings.Builder
	w.writeOpenTag(&sb, root, true)
	for edge := range w.in.Tree.Edges(id) {
		switch edge.Kind {
		case markup.EdgeOpen:
			w.writeOpenTag(&sb, edge.Element, false)
		case markup.EdgeText:
			xmlEscape(&sb, edge.Text.Data)
		case markup.EdgeClose:
			fmt.Fprintf(&sb, "</%s>", svgTagName(edge.Element.Name.Local))
		}
	}
	sb.WriteString("</svg>")
	return sb.String(), true
}

func (w *walker) writeOpenTag(sb *strings.Builder, el *markup.Element, isRoot bool) {
	sb.WriteByte('<')
	sb.WriteString(svgTagName(el.Name.Local))
	sawXMLNS := false
	for name, value := range el.Attrs {
		if name.Local == "xmlns" {
			sawXMLNS = true
		}
		if el.Name.Local == "image" && (name.Local == "href" || name.Local == "xlink:href") {
			inlined, ok := w.embedImage(value)
			if !ok {
				continue
			}
			value = inlined
		}
		sb.WriteByte(' ')
		sb.WriteString(svgAttrName(name.Local))
		sb.WriteString(`="`)
		xmlEscape(sb, value)
		sb.WriteByte('"')
	}
	if isRoot && !sawXMLNS {
		sb.WriteString(` xmlns="http://www.w3.org/2000/svg"`)
	}
	sb.WriteByte('>')
}

// embedImage turns an in-archive image reference into a data URI.
// Referencing another svg from inside an svg is disallowed.
func (w *walker) embedImage(ref string) (string, bool) {
	if strings.HasPrefix(ref, "data:") {
		return ref, true
	}
	if strings.Contains(ref, "://") || w.in.Resources == nil {
		w.diagf("svg image %q is not an archive path", ref)
		return "", false
	}
	resolved := resolvePath(w.in.BaseDir, ref)
	if strings.HasSuffix(strings.ToLower(resolved), ".svg") {
		w.diagf("svg image %q: nested svg references are not supported", ref)
		return "", false
	}
	data, err := w.in.Resources.Resource(resolved)
	if err != nil {
		w.diagf("svg image %q: %v", ref, err)
		return "", false
	}
	return "data:" + mimeByExt(resolved) + ";base64," + base64.StdEncoding.EncodeToString(data), true
}

func mimeByExt(p string) string {
	switch {
	case strings.HasSuffix(p, ".png"):
		return "image/png"
	case strings.HasSuffix(p, ".jpg"), strings.HasSuffix(p, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(p, ".gif"):
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func xmlEscape(sb *strings.Builder, s string) {
	// strings.Builder writes never fail.
	_ = xml.EscapeText(sb, []byte(s))
}
