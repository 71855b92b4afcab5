package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/markup"
)

var errNoNav = errors.New("epub: no navigation document")

// readTOC locates the navigation document and maps its entries onto
// spine indexes. EPUB3 books carry a manifest item with the "nav"
// property; older books fall back to the NCX named by the spine's toc
// attribute.
func (r *Reader) readTOC(manifest map[string]manifestItem) error {
	hrefToSpine := make(map[string]uint32, len(r.spine))
	for _, item := range r.spine {
		hrefToSpine[r.resolve(item.Href)] = item.Index
	}

	for _, item := range manifest {
		if hasProperty(item.Properties, "nav") {
			return r.readNav(item.Href, hrefToSpine)
		}
	}
	if item, ok := manifest[r.ncxID]; ok {
		return r.readNCX(item.Href, hrefToSpine)
	}
	return errNoNav
}

func hasProperty(properties, want string) bool {
	for _, p := range strings.Fields(properties) {
		if p == want {
			return true
		}
	}
	return false
}

// entry appends one navigation target, dropping entries that do not
// point at a spine document.
func (r *Reader) entry(navDir, href, title string, hrefToSpine map[string]uint32) {
	target, _, _ := strings.Cut(href, "#")
	if target == "" || title == "" {
		return
	}
	resolved := path.Clean(path.Join(navDir, target))
	spine, ok := hrefToSpine[resolved]
	if !ok {
		r.logger.Debug("toc entry outside spine", "href", href)
		return
	}
	r.toc.Items = append(r.toc.Items, book.TOCItem{
		Title:    strings.TrimSpace(title),
		Location: book.Location{Spine: spine},
	})
}

// readNav parses an EPUB3 navigation document. The nav element with
// epub:type "toc" holds a list of anchors; anchor hrefs resolve
// relative to the nav document itself.
func (r *Reader) readNav(href string, hrefToSpine map[string]uint32) error {
	navPath := r.resolve(href)
	data, err := r.readFile(navPath)
	if err != nil {
		return err
	}
	doc, err := markup.NewBuilder().Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("epub: parse nav %s: %w", href, err)
	}

	navDir := path.Dir(navPath)
	inTOC := 0
	var anchor string
	var text strings.Builder
	for edge := range doc.Tree.Edges(doc.Root) {
		switch edge.Kind {
		case markup.EdgeOpen:
			if inTOC > 0 {
				inTOC++
			} else if edge.Element.Name.Local == "nav" && isTOCNav(edge.Element) {
				inTOC = 1
			}
			if inTOC > 0 && edge.Element.Name.Local == "a" {
				anchor = edge.Element.Attr("href")
				text.Reset()
			}
		case markup.EdgeText:
			if anchor != "" {
				text.WriteString(edge.Text.Data)
			}
		case markup.EdgeClose:
			if inTOC > 0 && edge.Element.Name.Local == "a" && anchor != "" {
				r.entry(navDir, anchor, text.String(), hrefToSpine)
				anchor = ""
			}
			if inTOC > 0 {
				inTOC--
			}
		}
	}
	return nil
}

func isTOCNav(el *markup.Element) bool {
	if el.Attr("epub:type") == "toc" {
		return true
	}
	// Single-nav documents without the type attribute still serve as
	// the toc.
	return el.Attr("epub:type") == ""
}

type ncxXML struct {
	Title     string     `xml:"docTitle>text"`
	NavPoints []navPoint `xml:"navMap>navPoint"`
}

type navPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []navPoint `xml:"navPoint"`
}

// readNCX parses the EPUB2 NCX document, flattening nested nav points
// in reading order.
func (r *Reader) readNCX(href string, hrefToSpine map[string]uint32) error {
	ncxPath := r.resolve(href)
	data, err := r.readFile(ncxPath)
	if err != nil {
		return err
	}
	var ncx ncxXML
	if err := xml.Unmarshal(data, &ncx); err != nil {
		return fmt.Errorf("epub: parse ncx %s: %w", href, err)
	}
	if r.toc.Title == "" {
		r.toc.Title = strings.TrimSpace(ncx.Title)
	}
	ncxDir := path.Dir(ncxPath)
	var walk func(points []navPoint)
	walk = func(points []navPoint) {
		for _, p := range points {
			r.entry(ncxDir, p.Content.Src, p.Label, hrefToSpine)
			walk(p.Children)
		}
	}
	walk(ncx.NavPoints)
	return nil
}
