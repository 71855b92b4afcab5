package markup

import "iter"

// EdgeKind discriminates the three edge types of a document-order walk.
type EdgeKind uint8

const (
	// EdgeOpen is emitted when the walk enters an element.
	EdgeOpen EdgeKind = iota

	// EdgeText is emitted for a text node.
	EdgeText

	// EdgeClose is emitted when the walk leaves an element.
	EdgeClose
)

// Edge is one step of a document-order walk: an element being opened or
// closed, or a text node. Element and Text alias the tree's payloads
// and stay valid until the tree is cleared.
type Edge struct {
	Kind    EdgeKind
	ID      NodeID
	Element *Element
	Text    *Text
}

// Edges walks the subtree under start in document order, yielding
// open-element, text and close-element edges. The start node itself is
// not yielded. Structural nodes without payloads are skipped.
func (t *Tree) Edges(start NodeID) iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		stack := t.childEdgesReversed(nil, start)
		for len(stack) > 0 {
			edge := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(edge) {
				return
			}
			if edge.Kind == EdgeOpen {
				stack = append(stack, Edge{Kind: EdgeClose, ID: edge.ID, Element: edge.Element})
				stack = t.childEdgesReversed(stack, edge.ID)
			}
		}
	}
}

// childEdgesReversed appends the open/text edges of id's children in
// reverse document order, so popping from the stack yields them in
// document order.
func (t *Tree) childEdgesReversed(stack []Edge, id NodeID) []Edge {
	children := t.Children(id)
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		switch leaf := t.Leaf(child); leaf.Kind {
		case LeafElement:
			stack = append(stack, Edge{Kind: EdgeOpen, ID: child, Element: leaf.Element})
		case LeafText:
			stack = append(stack, Edge{Kind: EdgeText, ID: child, Text: leaf.Text})
		}
	}
	return stack
}

// contentTags are the element names that produce a content element
// index during the pre-scan. Headings and paragraph-level containers
// address reading positions; inline markup does not.
var contentTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "figure": true, "img": true, "svg": true,
}

// AssignElementIndexes enumerates the content-producing nodes under
// body with dense indexes starting at base and returns the mapping
// plus the first index past the chapter. A div counts as
// content-producing only when it directly contains text.
//
// The enumeration is recomputed whenever the chapter is re-parsed;
// indexes are only stable for the lifetime of one parse.
func (t *Tree) AssignElementIndexes(body NodeID, base uint32) (map[NodeID]uint32, uint32) {
	indexes := make(map[NodeID]uint32)
	next := base
	var skipSVG int
	for edge := range t.Edges(body) {
		switch edge.Kind {
		case EdgeOpen:
			if skipSVG > 0 {
				skipSVG++
				continue
			}
			tag := edge.Element.Name.Local
			if contentTags[tag] || (tag == "div" && t.hasDirectText(edge.ID)) {
				indexes[edge.ID] = next
				next++
			}
			// An svg subtree is a single content element; nothing
			// inside it gets its own index.
			if tag == "svg" {
				skipSVG = 1
			}
		case EdgeClose:
			if skipSVG > 0 {
				skipSVG--
			}
		}
	}
	return indexes, next
}

func (t *Tree) hasDirectText(id NodeID) bool {
	for _, c := range t.Children(id) {
		if t.Text(c) != nil {
			return true
		}
	}
	return false
}
