package fileload

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "fileload")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	content := []byte("hello\x00world")
	fn := filepath.Join(dir, "index.html")
	if err := ioutil.WriteFile(fn, content, 0644); err != nil {
		t.Fatal(err)
	}
	b, err := Load(fn)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(b) != string(content) {
		t.Fatalf("got %q want %q", b, content)
	}

	empty := filepath.Join(dir, "empty")
	if err := ioutil.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	b, err = Load(empty)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b == nil || len(b) != 0 {
		t.Fatalf("got %v for an empty file", b)
	}

	if _, err := Load(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for a directory")
	}
}
