// Package layout computes flow layout for parsed chapter trees.
//
// Each element reachable from the body becomes a flexbox node
// (github.com/kjk/flex, a Yoga port) in a single column. Consecutive
// inline content inside a block is grouped into one shaped text run
// whose measure callback wraps glyph lines at the available width, so
// the flex engine sees text as a leaf with an intrinsic size. The
// shaped runs and the relative box of every node are kept for the
// paginator, keyed by the markup NodeID.
package layout

import (
	"github.com/kjk/flex"
	"golang.org/x/image/math/fixed"

	"github.com/ksonny/scribble-reader/markup"
	"github.com/ksonny/scribble-reader/typeset"
)

// Params carries the style inputs of one layout pass. Sizes are in
// logical pixels; the shaper's scale factor converts them to device
// pixels internally.
type Params struct {
	FontSizePx     float32
	LineHeight     float32
	ParagraphGapEm float32

	// Heading holds the font-size multipliers for h1 through h6. A zero
	// entry means no scaling.
	Heading [6]float32

	Body   typeset.FaceRef
	Bold   typeset.FaceRef
	Italic typeset.FaceRef
}

// Box is a node's rectangle relative to its parent, in device pixels.
type Box struct {
	X, Y, W, H float32
}

// TextBlock is one laid-out run of inline content: the shaped glyphs,
// the lines they wrap into at the block's final width, and the vertical
// metrics the paginator needs to place baselines.
type TextBlock struct {
	Run   *typeset.Run
	Lines []typeset.Line

	// SizePx is the logical font size the run was shaped at.
	SizePx float32

	// LineHeightPx is the baseline-to-baseline distance in device
	// pixels.
	LineHeightPx float32

	// Ascent is the distance from the block's top to the first
	// baseline, in device pixels.
	Ascent float32
}

// Height returns the block's total height in device pixels.
func (b *TextBlock) Height() float32 {
	return float32(len(b.Lines)) * b.LineHeightPx
}

// Result is the output of one layout pass. Boxes holds the relative
// rectangle of every element and text group; Blocks holds the shaped
// runs, keyed by the first text node of each group.
type Result struct {
	Boxes  map[markup.NodeID]Box
	Blocks map[markup.NodeID]*TextBlock

	// Height is the total content height in device pixels.
	Height float32
}

// inlineTags flow into the enclosing block's text run instead of
// producing a box of their own.
var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "cite": true, "code": true,
	"em": true, "i": true, "mark": true, "q": true, "s": true,
	"small": true, "span": true, "strong": true, "sub": true,
	"sup": true, "time": true, "u": true,
}

// gapTags get the paragraph gap as a bottom margin.
var gapTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "figure": true,
}

// textStyle is the inherited style while descending the tree.
type textStyle struct {
	face   typeset.FaceRef
	sizePx float32
}

type segment struct {
	face typeset.FaceRef
	text string
}

// group accumulates consecutive inline content under one block.
type group struct {
	segments []segment
	key      markup.NodeID
	hasKey   bool
}

func (g *group) add(face typeset.FaceRef, text string) {
	if n := len(g.segments); n > 0 && g.segments[n-1].face == face {
		g.segments[n-1].text += text
		return
	}
	g.segments = append(g.segments, segment{face: face, text: text})
}

type builder struct {
	tree   *markup.Tree
	shaper *typeset.Shaper
	p      Params
	config *flex.Config
	blocks map[markup.NodeID]*TextBlock
	gapPx  float32
}

// Compute lays out the subtree under body into a column of the given
// content width (device pixels) with unconstrained height, and returns
// the boxes and shaped text runs of every node.
func Compute(tree *markup.Tree, body markup.NodeID, shaper *typeset.Shaper, p Params, contentWidth float32) (*Result, error) {
	b := &builder{
		tree:   tree,
		shaper: shaper,
		p:      p,
		config: flex.NewConfig(),
		blocks: make(map[markup.NodeID]*TextBlock),
		gapPx:  p.ParagraphGapEm * p.FontSizePx * shaper.Scale(),
	}

	root := flex.NewNodeWithConfig(b.config)
	root.StyleSetFlexDirection(flex.FlexDirectionColumn)
	root.StyleSetWidth(contentWidth)

	style := textStyle{face: p.Body, sizePx: p.FontSizePx}
	if err := b.buildChildren(root, body, style); err != nil {
		return nil, err
	}

	flex.CalculateLayout(root, contentWidth, flex.Undefined, flex.DirectionLTR)

	res := &Result{
		Boxes:  make(map[markup.NodeID]Box),
		Blocks: b.blocks,
		Height: root.LayoutGetHeight(),
	}
	b.collect(root, res)
	return res, nil
}

// buildChildren walks the markup children of id, folding inline content
// into text groups and descending into block elements.
func (b *builder) buildChildren(parent *flex.Node, id markup.NodeID, style textStyle) error {
	var g group
	for _, child := range b.tree.Children(id) {
		switch leaf := b.tree.Leaf(child); leaf.Kind {
		case markup.LeafText:
			if !g.hasKey {
				g.key, g.hasKey = child, true
			}
			g.add(style.face, leaf.Text.Data)
		case markup.LeafElement:
			tag := leaf.Element.Name.Local
			if tag == "br" {
				g.add(style.face, "\n")
				continue
			}
			if inlineTags[tag] {
				b.collectInline(child, b.inlineStyle(tag, style), &g)
				continue
			}
			if err := b.flush(parent, &g, style); err != nil {
				return err
			}
			if err := b.buildBlock(parent, child, tag, style); err != nil {
				return err
			}
		}
	}
	return b.flush(parent, &g, style)
}

// collectInline folds the text beneath an inline element into the
// current group with the element's style applied.
func (b *builder) collectInline(id markup.NodeID, style textStyle, g *group) {
	for _, child := range b.tree.Children(id) {
		switch leaf := b.tree.Leaf(child); leaf.Kind {
		case markup.LeafText:
			if !g.hasKey {
				g.key, g.hasKey = child, true
			}
			g.add(style.face, leaf.Text.Data)
		case markup.LeafElement:
			tag := leaf.Element.Name.Local
			if tag == "br" {
				g.add(style.face, "\n")
				continue
			}
			b.collectInline(child, b.inlineStyle(tag, style), g)
		}
	}
}

func (b *builder) inlineStyle(tag string, style textStyle) textStyle {
	switch tag {
	case "em", "i", "cite":
		style.face = b.p.Italic
	case "strong", "b":
		style.face = b.p.Bold
	}
	return style
}

func (b *builder) buildBlock(parent *flex.Node, id markup.NodeID, tag string, style textStyle) error {
	if level := headingLevel(tag); level > 0 {
		style.face = b.p.Bold
		if mult := b.p.Heading[level-1]; mult > 0 {
			style.sizePx = b.p.FontSizePx * mult
		}
	}

	node := flex.NewNodeWithConfig(b.config)
	node.Context = id
	node.StyleSetFlexDirection(flex.FlexDirectionColumn)
	if gapTags[tag] {
		node.StyleSetMargin(flex.EdgeBottom, b.gapPx)
	}
	parent.InsertChild(node, len(parent.Children))

	// An svg subtree is sized by the paginator when it rasterizes the
	// element; its internals never become flex nodes.
	if tag == "svg" {
		return nil
	}
	return b.buildChildren(node, id, style)
}

// flush shapes the accumulated group into one run and attaches a
// measured flex leaf for it.
func (b *builder) flush(parent *flex.Node, g *group, style textStyle) error {
	if !g.hasKey || len(g.segments) == 0 {
		*g = group{}
		return nil
	}

	run := &typeset.Run{Face: style.face, SizePx: style.sizePx}
	for _, seg := range g.segments {
		sub, err := b.shaper.ShapeRun(seg.face, style.sizePx, seg.text)
		if err != nil {
			return err
		}
		offset := len(run.Text)
		for i := range sub.Glyphs {
			sub.Glyphs[i].Cluster += offset
		}
		run.Text = append(run.Text, sub.Text...)
		run.Glyphs = append(run.Glyphs, sub.Glyphs...)
	}

	ascent, _, _, err := b.shaper.LineMetrics(style.face, style.sizePx)
	if err != nil {
		return err
	}
	lineHeightPx := style.sizePx * b.p.LineHeight * b.shaper.Scale()
	blk := &TextBlock{
		Run:          run,
		SizePx:       style.sizePx,
		LineHeightPx: lineHeightPx,
		Ascent:       fromFixed(ascent),
	}
	b.blocks[g.key] = blk

	node := flex.NewNodeWithConfig(b.config)
	node.Context = g.key
	node.SetMeasureFunc(func(n *flex.Node, width float32, widthMode flex.MeasureMode, height float32, heightMode flex.MeasureMode) flex.Size {
		maxW := fixed.Int26_6(0)
		if widthMode != flex.MeasureModeUndefined {
			maxW = toFixed(width)
		}
		lines := typeset.BreakLines(run, maxW)
		blk.Lines = lines
		var widest fixed.Int26_6
		for _, l := range lines {
			if l.Width > widest {
				widest = l.Width
			}
		}
		return flex.Size{
			Width:  fromFixed(widest),
			Height: float32(len(lines)) * lineHeightPx,
		}
	})
	parent.InsertChild(node, len(parent.Children))

	*g = group{}
	return nil
}

// collect records the final relative box of every node and re-breaks
// each text block's lines at its settled width.
func (b *builder) collect(node *flex.Node, res *Result) {
	for _, child := range node.Children {
		if id, ok := child.Context.(markup.NodeID); ok {
			box := Box{
				X: child.LayoutGetLeft(),
				Y: child.LayoutGetTop(),
				W: child.LayoutGetWidth(),
				H: child.LayoutGetHeight(),
			}
			res.Boxes[id] = box
			if blk, ok := b.blocks[id]; ok {
				blk.Lines = typeset.BreakLines(blk.Run, toFixed(box.W))
			}
		}
		b.collect(child, res)
	}
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func toFixed(v float32) fixed.Int26_6 {
	return fixed.Int26_6(v * 64)
}

func fromFixed(v fixed.Int26_6) float32 {
	return float32(v) / 64
}
