// Package imagecache memoizes decoded chapter images by archive path.
//
// A settings change re-renders every cached chapter against the same
// resources, so decoding each image once per book open covers the
// common case. The cache is a plain LRU; eviction only matters for
// books with an unusual number of illustrations.
package imagecache

import (
	"image"
	"sync"
)

// DefaultLimit is the entry limit used when New is given a
// non-positive one.
const DefaultLimit = 32

// node is a doubly-linked list node carrying its key for O(1) removal
// from the entry map. Head is most recently used.
type node struct {
	key        string
	prev, next *node
}

type entry struct {
	img  image.Image
	node *node
}

// Cache is a thread-safe LRU over decoded images.
// It must not be copied after creation.
type Cache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*entry
	head    *node
	tail    *node
}

// New creates a cache holding at most limit decoded images.
func New(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Cache{limit: limit, entries: make(map[string]*entry)}
}

// Get returns the decoded image stored under path, marking it most
// recently used.
func (c *Cache) Get(path string) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	c.moveToFront(e.node)
	return e.img, true
}

// Add stores a decoded image, evicting the least recently used entry
// when the cache is full. The image is stored as-is and must not be
// mutated afterwards.
func (c *Cache) Add(path string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		e.img = img
		c.moveToFront(e.node)
		return
	}
	for len(c.entries) >= c.limit {
		oldest := c.tail
		if oldest == nil {
			break
		}
		c.unlink(oldest)
		delete(c.entries, oldest.key)
	}
	n := &node{key: path}
	c.pushFront(n)
	c.entries[path] = &entry{img: img, node: n}
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) moveToFront(n *node) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (c *Cache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
