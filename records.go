package scribble

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/ksonny/scribble-reader/book"
)

type recordLocation struct {
	Spine   uint32 `toml:"spine"`
	Element uint32 `toml:"element"`
}

type recordsFile struct {
	Books map[string]recordLocation `toml:"books"`
}

// FileRecords persists reading state in a TOML file keyed by book id.
// It implements book.Records. Writes go through a temp file and rename
// so a crash never leaves a torn file behind.
type FileRecords struct {
	path string

	mu    sync.Mutex
	books map[string]recordLocation
}

// OpenRecords loads the records file, creating an empty store when the
// file does not exist yet.
func OpenRecords(path string) (*FileRecords, error) {
	r := &FileRecords{path: path, books: make(map[string]recordLocation)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scribble: open records %s: %w", path, err)
	}
	var file recordsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("scribble: parse records %s: %w", path, err)
	}
	if file.Books != nil {
		r.books = file.Books
	}
	return r, nil
}

// ReadingState returns the stored location for the book, if any.
func (r *FileRecords) ReadingState(id book.ID) (book.Location, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.books[id.String()]
	if !ok {
		return book.Location{}, false, nil
	}
	return book.Location{Spine: loc.Spine, Element: loc.Element}, true, nil
}

// SaveReadingState stores the location and rewrites the file.
func (r *FileRecords) SaveReadingState(id book.ID, loc book.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[id.String()] = recordLocation{Spine: loc.Spine, Element: loc.Element}
	return r.flush()
}

func (r *FileRecords) flush() error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".records-*")
	if err != nil {
		return fmt.Errorf("scribble: write records: %w", err)
	}
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(recordsFile{Books: r.books}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("scribble: encode records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("scribble: write records: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("scribble: write records: %w", err)
	}
	return nil
}
