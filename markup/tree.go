// Package markup builds arena-indexed node trees from e-book content
// fragments.
//
// The tree owns every node through a dense NodeID handed out by the
// arena; nodes never hold pointers to each other and all mutation goes
// through the Tree's accessors. A Builder drives a permissive streaming
// parse (golang.org/x/net/html tokenizer) through the Tree's insertion
// primitives and records non-fatal diagnostics instead of failing on
// malformed input, since real-world e-book markup is rarely clean.
package markup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoParent is reported when an insert-before-sibling names a sibling
// that is not attached to any parent.
var ErrNoParent = errors.New("markup: sibling has no parent")

// ErrNotElement is reported when an element-only operation targets a
// node that does not hold an element.
var ErrNotElement = errors.New("markup: node is not an element")

// NodeID is a dense index into the tree's arena. IDs increase
// monotonically and are never reused within a tree's lifetime; removing
// a node from its parent does not invalidate other IDs.
type NodeID uint32

// Name is a namespace-qualified tag or attribute name.
type Name struct {
	Space string
	Local string
}

// Element is a markup element: a qualified tag name plus attributes.
type Element struct {
	Name  Name
	Attrs map[Name]string
}

// Attr returns the value of the attribute with the given local name in
// the empty namespace, or "" if absent.
func (e *Element) Attr(local string) string {
	return e.Attrs[Name{Local: local}]
}

// Text is an owned run of character data. Adjacent sibling text under
// the same parent is coalesced into one Text at insertion time.
type Text struct {
	Data string
}

// LeafKind discriminates the closed set of node payloads.
type LeafKind uint8

const (
	// LeafNone marks a structural node with no payload (the root, the
	// error placeholder, template content holders).
	LeafNone LeafKind = iota

	// LeafElement marks an element node.
	LeafElement

	// LeafText marks a text node.
	LeafText
)

// Leaf is the payload of one node: element or text. The variant set is
// closed; callers switch on Kind explicitly.
type Leaf struct {
	Kind    LeafKind
	Element *Element
	Text    *Text
}

// Tree is the arena that owns all nodes of one parsed fragment.
//
// Invariants: every non-root node has at most one parent; child order
// is insertion (document) order; the context map associates a payload
// with element and text nodes only.
//
// Tree is not safe for concurrent use. The single-writer parse phase
// mutates it through the insertion primitives; afterwards it is walked
// read-only.
type Tree struct {
	nextID   uint32
	parents  map[NodeID]NodeID
	children map[NodeID][]NodeID
	contexts map[NodeID]Leaf
}

// NewTree creates an empty arena.
func NewTree() *Tree {
	return &Tree{
		parents:  make(map[NodeID]NodeID),
		children: make(map[NodeID][]NodeID),
		contexts: make(map[NodeID]Leaf),
	}
}

// NodeCount returns the number of allocated nodes.
func (t *Tree) NodeCount() uint32 {
	return t.nextID
}

// AddNode allocates a payload-free structural node.
func (t *Tree) AddNode() NodeID {
	id := NodeID(t.nextID)
	t.nextID++
	return id
}

// AddElement allocates a node holding el.
func (t *Tree) AddElement(el Element) NodeID {
	id := t.AddNode()
	t.contexts[id] = Leaf{Kind: LeafElement, Element: &el}
	return id
}

// AddText allocates a node holding the text s.
func (t *Tree) AddText(s string) NodeID {
	id := t.AddNode()
	t.contexts[id] = Leaf{Kind: LeafText, Text: &Text{Data: s}}
	return id
}

// Leaf returns the payload of id. The zero Leaf (Kind LeafNone) is
// returned for structural nodes and unknown ids.
func (t *Tree) Leaf(id NodeID) Leaf {
	return t.contexts[id]
}

// Element returns the element payload of id, or nil if id does not hold
// an element.
func (t *Tree) Element(id NodeID) *Element {
	return t.contexts[id].Element
}

// Text returns the text payload of id, or nil if id does not hold text.
func (t *Tree) Text(id NodeID) *Text {
	return t.contexts[id].Text
}

// Parent returns the parent of id, if attached.
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	p, ok := t.parents[id]
	return p, ok
}

// Children returns the ordered child list of id. The returned slice is
// owned by the tree and must not be mutated.
func (t *Tree) Children(id NodeID) []NodeID {
	return t.children[id]
}

// RemoveFromParent detaches id from its parent's child list. Other
// NodeIDs stay valid.
func (t *Tree) RemoveFromParent(id NodeID) {
	parent, ok := t.parents[id]
	if !ok {
		return
	}
	delete(t.parents, id)
	siblings := t.children[parent]
	for i, c := range siblings {
		if c == id {
			t.children[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

// AppendChild attaches child as the last child of parent, detaching it
// from any previous parent first.
func (t *Tree) AppendChild(parent, child NodeID) {
	if parent == child {
		return
	}
	t.RemoveFromParent(child)
	t.parents[child] = parent
	t.children[parent] = append(t.children[parent], child)
}

// InsertBeforeSibling attaches child immediately before sibling under
// sibling's parent. A sibling without a parent is a reported error, not
// a panic.
func (t *Tree) InsertBeforeSibling(sibling, child NodeID) error {
	parent, ok := t.parents[sibling]
	if !ok {
		return fmt.Errorf("insert before node %d: %w", sibling, ErrNoParent)
	}
	t.RemoveFromParent(child)
	t.parents[child] = parent

	siblings := t.children[parent]
	for i, c := range siblings {
		if c == sibling {
			siblings = append(siblings[:i], append([]NodeID{child}, siblings[i:]...)...)
			t.children[parent] = siblings
			return nil
		}
	}
	t.children[parent] = append(siblings, child)
	return nil
}

// ReparentChildren moves all children of from to the end of to's child
// list, preserving their order.
func (t *Tree) ReparentChildren(from, to NodeID) {
	moved := append([]NodeID(nil), t.children[from]...)
	for _, c := range moved {
		t.AppendChild(to, c)
	}
}

// AddAttrsIfMissing adds each attribute to the element held by id
// unless an attribute with the same qualified name already exists.
func (t *Tree) AddAttrsIfMissing(id NodeID, attrs map[Name]string) error {
	el := t.Element(id)
	if el == nil {
		return fmt.Errorf("add attrs to node %d: %w", id, ErrNotElement)
	}
	if el.Attrs == nil {
		el.Attrs = make(map[Name]string, len(attrs))
	}
	for name, value := range attrs {
		if _, ok := el.Attrs[name]; !ok {
			el.Attrs[name] = value
		}
	}
	return nil
}

// AppendText contributes character data under parent. Whitespace-only
// text is dropped; text following a text node merges into it instead of
// materializing a second node. Returns the node holding the text, if
// any was materialized or extended.
func (t *Tree) AppendText(parent NodeID, s string) (NodeID, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false
	}
	siblings := t.children[parent]
	if n := len(siblings); n > 0 {
		last := siblings[n-1]
		if txt := t.Text(last); txt != nil {
			txt.Data += s
			return last, true
		}
	}
	id := t.AddText(s)
	t.AppendChild(parent, id)
	return id, true
}

// InsertTextBeforeSibling contributes character data immediately before
// sibling, merging into the preceding sibling when that node holds
// text. Whitespace-only text is dropped.
func (t *Tree) InsertTextBeforeSibling(sibling NodeID, s string) (NodeID, bool, error) {
	if strings.TrimSpace(s) == "" {
		return 0, false, nil
	}
	parent, ok := t.parents[sibling]
	if !ok {
		return 0, false, fmt.Errorf("insert text before node %d: %w", sibling, ErrNoParent)
	}
	var older NodeID
	var hasOlder bool
	for _, c := range t.children[parent] {
		if c == sibling {
			break
		}
		older, hasOlder = c, true
	}
	if hasOlder {
		if txt := t.Text(older); txt != nil {
			txt.Data += s
			return older, true, nil
		}
	}
	id := t.AddText(s)
	if err := t.InsertBeforeSibling(sibling, id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Clear drops every node so the arena can be reused for the next
// fragment. All previously issued NodeIDs become invalid.
func (t *Tree) Clear() {
	t.nextID = 0
	clear(t.parents)
	clear(t.children)
	clear(t.contexts)
}
