package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func writePages(t *testing.T, dir string, count int) []string {
	t.Helper()
	paths := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("page_%02d.png", i))
		// Non-square on purpose; pages are stretched to the square raster.
		img := imaging.New(40, 30, color.NRGBA{R: uint8(i * 20), G: 120, B: 200, A: 255})
		if err := imaging.Save(img, path); err != nil {
			t.Fatalf("save page: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestCompileWritesOnePagePerImage(t *testing.T) {
	dir := t.TempDir()
	pages := writePages(t, dir, 12)
	out := filepath.Join(dir, "storybook_job.pdf")

	count, err := New(64).Compile(context.Background(), pages, out)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if count != 12 {
		t.Fatalf("expected 12 pages, got %d", count)
	}

	body, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatalf("output is not a pdf")
	}
	if got := bytes.Count(body, []byte("/Type /Page\n")); got != 12 {
		t.Fatalf("expected 12 page objects, got %d", got)
	}
}

func TestCompileRejectsEmptyInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "book.pdf")
	if _, err := New(64).Compile(context.Background(), nil, out); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestCompileFailsOnUndecodablePage(t *testing.T) {
	dir := t.TempDir()
	pages := writePages(t, dir, 2)
	broken := filepath.Join(dir, "page_03.png")
	if err := os.WriteFile(broken, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken page: %v", err)
	}
	out := filepath.Join(dir, "book.pdf")

	if _, err := New(64).Compile(context.Background(), append(pages, broken), out); err == nil {
		t.Fatalf("expected error for undecodable page")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected no artifact after failure, got %v", err)
	}
}
