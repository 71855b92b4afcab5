package scribble

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/ksonny/scribble-reader/book"
)

func TestRecordsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.toml")
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file:///books/walk.epub"))

	r, err := OpenRecords(path)
	if err != nil {
		t.Fatalf("OpenRecords: %v", err)
	}
	want := book.Location{Spine: 3, Element: 41}
	if err := r.SaveReadingState(id, want); err != nil {
		t.Fatalf("SaveReadingState: %v", err)
	}

	// A fresh handle reads the state back from disk.
	r2, err := OpenRecords(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := r2.ReadingState(id)
	if err != nil || !ok {
		t.Fatalf("ReadingState = %v, %v, %v", got, ok, err)
	}
	if got != want {
		t.Errorf("location = %v, want %v", got, want)
	}
}

func TestRecordsUnknownBook(t *testing.T) {
	r, err := OpenRecords(filepath.Join(t.TempDir(), "records.toml"))
	if err != nil {
		t.Fatalf("OpenRecords: %v", err)
	}
	if _, ok, err := r.ReadingState(uuid.New()); ok || err != nil {
		t.Errorf("unknown book = ok %v, err %v", ok, err)
	}
}

func TestRecordsKeepOtherBooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.toml")
	a := uuid.NewSHA1(uuid.NameSpaceURL, []byte("a"))
	b := uuid.NewSHA1(uuid.NameSpaceURL, []byte("b"))

	r, err := OpenRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SaveReadingState(a, book.Location{Spine: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveReadingState(b, book.Location{Spine: 2, Element: 9}); err != nil {
		t.Fatal(err)
	}

	r2, err := OpenRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if loc, ok, _ := r2.ReadingState(a); !ok || loc.Spine != 1 {
		t.Errorf("book a = %v, %v", loc, ok)
	}
	if loc, ok, _ := r2.ReadingState(b); !ok || loc != (book.Location{Spine: 2, Element: 9}) {
		t.Errorf("book b = %v, %v", loc, ok)
	}
}

func TestRecordsRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.toml")
	if err := os.WriteFile(path, []byte("not = [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenRecords(path); err == nil {
		t.Error("garbage records file did not fail")
	}
}
