// Package compiler assembles rendered page images into the final book.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"

	"github.com/iago/storybook-back/internal/storage"
)

// PageInches is the side of the square page.
const PageInches = 8.5

var ErrNoPages = errors.New("compiler: no pages to compile")

type Compiler struct {
	// RasterSize is the pixel side every page is normalized to before
	// embedding.
	RasterSize int
}

func New(rasterSize int) *Compiler {
	if rasterSize <= 0 {
		rasterSize = 1024
	}
	return &Compiler{RasterSize: rasterSize}
}

// Compile writes one full-bleed page per image, in order, to outPath and
// returns the number of pages written. The file appears atomically.
func (c *Compiler) Compile(ctx context.Context, pagePaths []string, outPath string) (int, error) {
	if len(pagePaths) == 0 {
		return 0, ErrNoPages
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "in",
		Size:           fpdf.SizeType{Wd: PageInches, Ht: PageInches},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Storybook", true)

	options := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	for index, path := range pagePaths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		normalized, err := c.normalize(path)
		if err != nil {
			return 0, fmt.Errorf("compiler: page %d: %w", index+1, err)
		}

		name := fmt.Sprintf("page_%02d", index+1)
		pdf.RegisterImageOptionsReader(name, options, bytes.NewReader(normalized))
		pdf.AddPage()
		pdf.ImageOptions(name, 0, 0, PageInches, PageInches, false, options, 0, "")
		if err := pdf.Error(); err != nil {
			return 0, fmt.Errorf("compiler: page %d: %w", index+1, err)
		}
	}

	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return 0, fmt.Errorf("compiler: render pdf: %w", err)
	}
	if err := storage.WriteFileAtomic(outPath, buffer.Bytes()); err != nil {
		return 0, err
	}
	return len(pagePaths), nil
}

// normalize stretches the image to a square raster on an opaque white
// background and re-encodes it as PNG.
func (c *Compiler) normalize(path string) ([]byte, error) {
	source, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	resized := imaging.Resize(source, c.RasterSize, c.RasterSize, imaging.Lanczos)
	canvas := imaging.New(c.RasterSize, c.RasterSize, color.White)
	flattened := imaging.Overlay(canvas, resized, image.Pt(0, 0), 1.0)

	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, flattened, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buffer.Bytes(), nil
}
