package markup

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// voidElements never take children; their start tag is also their end.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// rawTextElements hold character data that is not document content.
var rawTextElements = map[string]bool{
	"script": true, "style": true, "title": true, "textarea": true,
}

// DiagKind classifies the non-fatal problems the builder records.
type DiagKind uint8

const (
	// DiagUnmatchedClose is a close tag with no matching open element;
	// Detail carries the tag name.
	DiagUnmatchedClose DiagKind = iota

	// DiagDuplicateBody is a second body element. Its content attaches
	// to the first body.
	DiagDuplicateBody

	// DiagHeadCharData is character data inside head, which is dropped.
	DiagHeadCharData
)

// Diagnostic is one non-fatal parse problem. Callers branch on Kind;
// String renders it for logs.
type Diagnostic struct {
	Kind   DiagKind
	Detail string
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case DiagUnmatchedClose:
		return "unmatched close tag </" + d.Detail + ">"
	case DiagDuplicateBody:
		return "duplicate body element"
	case DiagHeadCharData:
		return "character data inside head dropped"
	}
	return d.Detail
}

// Document is the result of parsing one content fragment. It borrows
// the builder's tree; a subsequent Builder.Reset invalidates it.
type Document struct {
	Tree *Tree

	// Root is the synthetic document node all content hangs off.
	Root NodeID

	// Body is the element recognized as the body container, so layout
	// and pagination can start there instead of at Root. Valid only
	// when HasBody is true.
	Body NodeID

	// HasBody reports whether a body container was found or synthesized.
	HasBody bool

	// Diagnostics lists non-fatal parse problems in input order.
	Diagnostics []Diagnostic
}

// Builder turns a byte stream of one content fragment into a Document.
//
// Parsing is permissive: unbalanced close tags, stray content and
// malformed attributes produce diagnostics, never errors. Only a read
// failure on the underlying stream aborts the parse.
//
// A Builder is reusable: Reset clears all nodes so the arena's
// allocations are amortized across fragments.
type Builder struct {
	tree *Tree

	root    NodeID
	errNode NodeID
	body    NodeID
	hasBody bool

	diags []Diagnostic

	// stack is the list of currently open elements, root first.
	stack []NodeID
}

// NewBuilder creates a Builder with a fresh arena.
func NewBuilder() *Builder {
	b := &Builder{tree: NewTree()}
	b.init()
	return b
}

func (b *Builder) init() {
	b.root = b.tree.AddNode()
	b.errNode = b.tree.AddNode()
	b.body = 0
	b.hasBody = false
	b.diags = b.diags[:0]
	b.stack = append(b.stack[:0], b.root)
}

// Reset clears all nodes and diagnostics, invalidating any Document
// previously returned, and prepares the builder for the next fragment.
func (b *Builder) Reset() {
	b.tree.Clear()
	b.init()
}

// Tree exposes the underlying arena, primarily for the insertion
// primitives in tests and for tooling.
func (b *Builder) Tree() *Tree {
	return b.tree
}

// ErrorNode returns the placeholder node used when a structural lookup
// (such as template contents) has no answer.
func (b *Builder) ErrorNode() NodeID {
	return b.errNode
}

// TemplateContents returns the content placeholder of a template
// element: its first child, or the error placeholder when the element
// has none.
func (b *Builder) TemplateContents(id NodeID) NodeID {
	if children := b.tree.Children(id); len(children) > 0 {
		return children[0]
	}
	return b.errNode
}

// Parse consumes the fragment byte stream and returns the built
// Document. The returned error is nil unless reading from r fails;
// malformed markup is reported through Document.Diagnostics.
func (b *Builder) Parse(r io.Reader) (*Document, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			err := z.Err()
			if err == io.EOF {
				return b.finish(), nil
			}
			return nil, fmt.Errorf("markup: read fragment: %w", err)

		case html.StartTagToken:
			tok := z.Token()
			b.openElement(tok, false)

		case html.SelfClosingTagToken:
			tok := z.Token()
			b.openElement(tok, true)

		case html.EndTagToken:
			tok := z.Token()
			b.closeElement(tok.Data)

		case html.TextToken:
			tok := z.Token()
			b.appendText(tok.Data)

		case html.CommentToken, html.DoctypeToken:
			// Neither contributes content.
		}
	}
}

func (b *Builder) finish() *Document {
	return &Document{
		Tree:        b.tree,
		Root:        b.root,
		Body:        b.body,
		HasBody:     b.hasBody,
		Diagnostics: b.diags,
	}
}

func (b *Builder) current() NodeID {
	return b.stack[len(b.stack)-1]
}

// inHead reports whether the insertion point is inside a head element.
func (b *Builder) inHead() bool {
	for _, id := range b.stack {
		if el := b.tree.Element(id); el != nil && el.Name.Local == "head" {
			return true
		}
	}
	return false
}

// inRawText reports whether the current element holds non-content
// character data.
func (b *Builder) inRawText() bool {
	el := b.tree.Element(b.current())
	return el != nil && rawTextElements[el.Name.Local]
}

// ensureBody synthesizes a body container when content arrives before
// (or after) an explicit body element, so the fragment always has a
// place for layout to start. Fragments without any html scaffolding are
// common in e-book archives.
func (b *Builder) ensureBody() {
	if b.inHead() {
		return
	}
	for _, id := range b.stack {
		if b.hasBody && id == b.body {
			return
		}
	}
	if b.hasBody {
		// Content after the body was closed; reopen it.
		b.stack = append(b.stack, b.body)
		return
	}
	id := b.tree.AddElement(Element{Name: Name{Local: "body"}})
	b.tree.AppendChild(b.current(), id)
	b.stack = append(b.stack, id)
	b.body = id
	b.hasBody = true
}

func (b *Builder) openElement(tok html.Token, selfClosing bool) {
	local := tok.Data
	switch local {
	case "html", "head":
		// Structural scaffolding attaches wherever we are.
	case "body":
		if b.hasBody {
			b.diags = append(b.diags, Diagnostic{Kind: DiagDuplicateBody})
			b.stack = append(b.stack, b.body)
			return
		}
	default:
		b.ensureBody()
	}

	el := Element{Name: Name{Local: local}}
	if len(tok.Attr) > 0 {
		el.Attrs = make(map[Name]string, len(tok.Attr))
		for _, a := range tok.Attr {
			el.Attrs[Name{Space: a.Namespace, Local: a.Key}] = a.Val
		}
	}
	id := b.tree.AddElement(el)
	b.tree.AppendChild(b.current(), id)

	if local == "body" {
		b.body = id
		b.hasBody = true
	}
	if local == "template" {
		// Template content hangs off a placeholder child.
		holder := b.tree.AddNode()
		b.tree.AppendChild(id, holder)
	}
	if !selfClosing && !voidElements[local] {
		b.stack = append(b.stack, id)
	}
}

func (b *Builder) closeElement(local string) {
	// Find the nearest matching open element; closing it implicitly
	// closes any unclosed children above it.
	for i := len(b.stack) - 1; i > 0; i-- {
		el := b.tree.Element(b.stack[i])
		if el != nil && el.Name.Local == local {
			b.stack = b.stack[:i]
			return
		}
	}
	b.diags = append(b.diags, Diagnostic{Kind: DiagUnmatchedClose, Detail: local})
}

func (b *Builder) appendText(data string) {
	if b.inRawText() {
		return
	}
	if strings.TrimSpace(data) == "" {
		return
	}
	if b.inHead() {
		b.diags = append(b.diags, Diagnostic{Kind: DiagHeadCharData})
		return
	}
	b.ensureBody()
	b.tree.AppendText(b.current(), data)
}
