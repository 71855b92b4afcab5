// Package epub reads zipped EPUB containers into the engine's archive
// model.
//
// The whole container is held in memory; every read is a bounded,
// synchronous lookup into the zip directory. Opening a book parses
// META-INF/container.xml, the package document's manifest and spine,
// and the navigation document (EPUB3 nav with an NCX fallback), and
// counts the words of every spine item for progress display.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/markup"
)

// ErrNoRootfile is returned when the container declares no package
// document.
var ErrNoRootfile = errors.New("epub: container has no rootfile")

// ErrNotInArchive is returned for paths the container does not hold.
var ErrNotInArchive = errors.New("epub: no such file in archive")

// Reader is an opened EPUB container. It implements book.Archive.
type Reader struct {
	files  map[string]*zip.File
	opfDir string
	title  string
	ncxID  string
	spine  []book.SpineItem
	toc    book.TOC
	logger *log.Logger
}

type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type packageXML struct {
	Metadata struct {
		Title string `xml:"title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// Open reads an EPUB from an in-memory byte slice. A nil logger
// disables logging.
func Open(data []byte, logger *log.Logger) (*Reader, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("epub: open container: %w", err)
	}

	r := &Reader{files: make(map[string]*zip.File, len(zr.File)), logger: logger}
	for _, f := range zr.File {
		r.files[path.Clean(f.Name)] = f
	}

	opfPath, err := r.rootfilePath()
	if err != nil {
		return nil, err
	}
	r.opfDir = path.Dir(opfPath)
	if r.opfDir == "." {
		r.opfDir = ""
	}

	manifest, err := r.readPackage(opfPath)
	if err != nil {
		return nil, err
	}
	if err := r.readTOC(manifest); err != nil {
		// A book without navigation is still readable.
		logger.Warn("no usable navigation document", "err", err)
	}
	r.countWords()

	logger.Info("opened book",
		"title", r.title, "chapters", len(r.spine), "toc", len(r.toc.Items))
	return r, nil
}

func (r *Reader) rootfilePath() (string, error) {
	data, err := r.readFile("META-INF/container.xml")
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("epub: parse container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", ErrNoRootfile
	}
	return path.Clean(c.Rootfiles[0].FullPath), nil
}

// readPackage parses the package document and fills the spine. It
// returns the manifest keyed by item id.
func (r *Reader) readPackage(opfPath string) (map[string]manifestItem, error) {
	data, err := r.readFile(opfPath)
	if err != nil {
		return nil, err
	}
	var pkg packageXML
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("epub: parse %s: %w", opfPath, err)
	}
	r.title = strings.TrimSpace(pkg.Metadata.Title)
	r.toc.Title = r.title
	r.ncxID = pkg.Spine.TOC

	manifest := make(map[string]manifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	for _, ref := range pkg.Spine.Itemrefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			r.logger.Warn("spine references unknown manifest item", "idref", ref.IDRef)
			continue
		}
		r.spine = append(r.spine, book.SpineItem{
			Index: uint32(len(r.spine)),
			ID:    item.ID,
			Href:  item.Href,
		})
	}
	return manifest, nil
}

// countWords tallies whitespace-separated words per spine item, reusing
// one builder arena across chapters.
func (r *Reader) countWords() {
	builder := markup.NewBuilder()
	for i := range r.spine {
		data, err := r.Chapter(uint32(i))
		if err != nil {
			continue
		}
		doc, err := builder.Parse(bytes.NewReader(data))
		if err != nil {
			continue
		}
		var words uint64
		for edge := range doc.Tree.Edges(doc.Body) {
			if edge.Kind == markup.EdgeText {
				words += uint64(len(strings.Fields(edge.Text.Data)))
			}
		}
		r.spine[i].Words = words
		builder.Reset()
	}
}

// resolve maps an OPF-relative or archive-absolute reference to the
// archive path it names.
func (r *Reader) resolve(ref string) string {
	ref = path.Clean(strings.TrimPrefix(ref, "/"))
	if _, ok := r.files[ref]; ok {
		return ref
	}
	if r.opfDir == "" {
		return ref
	}
	return path.Clean(path.Join(r.opfDir, ref))
}

func (r *Reader) readFile(name string) ([]byte, error) {
	f, ok := r.files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInArchive, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("epub: read %s: %w", name, err)
	}
	return data, nil
}

// Title returns the book's title from the package metadata.
func (r *Reader) Title() string {
	return r.title
}

// Chapter returns the raw bytes of spine item i.
func (r *Reader) Chapter(i uint32) ([]byte, error) {
	if int(i) >= len(r.spine) {
		return nil, fmt.Errorf("epub: spine index %d out of range", i)
	}
	return r.readFile(r.resolve(r.spine[i].Href))
}

// Resource returns the bytes of a resource by path, resolved against
// the archive root with a package-directory fallback.
func (r *Reader) Resource(p string) ([]byte, error) {
	return r.readFile(r.resolve(p))
}

// Spine returns a copy of the ordered chapter list.
func (r *Reader) Spine() []book.SpineItem {
	out := make([]book.SpineItem, len(r.spine))
	copy(out, r.spine)
	return out
}

// TOC returns the parsed navigation entries. Locations carry spine
// indexes only.
func (r *Reader) TOC() book.TOC {
	return r.toc
}
