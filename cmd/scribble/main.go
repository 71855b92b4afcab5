// Command scribble renders pages of a zipped e-book to PNG files.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	scribble "github.com/ksonny/scribble-reader"
	"github.com/ksonny/scribble-reader/book"
	"github.com/ksonny/scribble-reader/epub"
	"github.com/ksonny/scribble-reader/paginate"
	"github.com/ksonny/scribble-reader/typeset"
)

func main() {
	var (
		config  = flag.String("config", "", "TOML config file with a [render] table")
		output  = flag.String("output", ".", "directory for rendered pages")
		pages   = flag.Int("pages", 1, "number of pages to render")
		records = flag.String("records", "", "reading state file (empty disables persistence)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] book.epub\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	scribble.SetLogger(logger)

	if err := run(flag.Arg(0), *config, *output, *records, *pages, logger); err != nil {
		logger.Fatal("render failed", "err", err)
	}
}

func run(bookPath, configPath, outDir, recordsPath string, pages int, logger *log.Logger) error {
	settings, err := scribble.LoadSettings(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(bookPath)
	if err != nil {
		return err
	}
	archive, err := epub.Open(data, logger)
	if err != nil {
		return err
	}

	var store book.Records
	if recordsPath != "" {
		fr, err := scribble.OpenRecords(recordsPath)
		if err != nil {
			return err
		}
		store = fr
	}

	abs, err := filepath.Abs(bookPath)
	if err != nil {
		return err
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs))

	reader, err := scribble.Open(id, archive, store, settings, logger)
	if err != nil {
		return err
	}
	defer reader.Close()

	logger.Info("rendering", "title", archive.Title(), "chapters", len(archive.Spine()))

	c := compositor{reader: reader, settings: settings}
	prev := book.Location{Spine: ^uint32(0)}
	for i := 0; i < pages; i++ {
		loc, err := waitReady(reader)
		if err != nil {
			return err
		}
		if loc == prev {
			logger.Info("reached the end of the book")
			break
		}
		prev = loc

		page, ok := reader.CurrentPage()
		if !ok {
			return fmt.Errorf("no page for %v", loc)
		}
		img, err := c.compose(page)
		if err != nil {
			return err
		}
		name := filepath.Join(outDir, fmt.Sprintf("page-%03d.png", i+1))
		if err := savePNG(name, img); err != nil {
			return err
		}
		logger.Info("page rendered", "file", name, "location", loc, "items", len(page.Items))

		if i+1 < pages {
			if err := reader.NextPage(); err != nil {
				return err
			}
		}
	}
	return nil
}

func waitReady(r *scribble.Reader) (book.Location, error) {
	select {
	case n, ok := <-r.Notifications():
		if !ok {
			return book.Location{}, fmt.Errorf("reader stopped")
		}
		return n.Location, nil
	case <-time.After(30 * time.Second):
		return book.Location{}, fmt.Errorf("timed out waiting for render")
	}
}

// compositor paints pages onto a white background: image items first,
// then glyph quads masked from the shared atlas.
type compositor struct {
	reader   *scribble.Reader
	settings scribble.RenderSettings
	atlas    *image.Alpha
}

func (c *compositor) compose(page *paginate.PageContent) (*image.RGBA, error) {
	s := c.settings
	w, h := int(s.PageWidth), int(s.PageHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	pad := image.Pt(
		int(s.PaddingLeftEm*s.FontSizePx*s.ScaleFactor),
		int(s.PaddingTopEm*s.FontSizePx*s.ScaleFactor),
	)

	for _, item := range page.Items {
		if item.Kind != paginate.ItemImage {
			continue
		}
		pix := item.Image.Pixels
		at := pad.Add(image.Pt(int(item.X), int(item.Y)))
		draw.Draw(dst, pix.Bounds().Add(at), pix, image.Point{}, draw.Over)
	}

	quads, err := c.reader.PageGlyphs(page)
	if err != nil {
		return nil, err
	}
	if img, ok := c.reader.AtlasImage(); ok {
		c.atlas = img
	}
	if c.atlas == nil && len(quads) > 0 {
		return nil, fmt.Errorf("glyph quads without an atlas")
	}
	ink := image.NewUniform(color.Black)
	for _, q := range quads {
		c.drawGlyph(dst, pad, ink, q)
	}
	return dst, nil
}

func (c *compositor) drawGlyph(dst *image.RGBA, pad image.Point, ink image.Image, q typeset.DisplayGlyph) {
	r := image.Rect(
		pad.X+int(q.X), pad.Y+int(q.Y),
		pad.X+int(q.X)+int(q.W), pad.Y+int(q.Y)+int(q.H),
	)
	draw.DrawMask(dst, r, ink, image.Point{}, c.atlas, q.UV.Min, draw.Over)
}

func savePNG(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
