package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/gogpu/nbody/gpucore"
)

var errNoSnapshot = errors.New("presenter cannot read images back")

type snapshotter interface {
	Snapshot() (*image.RGBA, error)
}

func writeSnapshot(p gpucore.Presenter, path string, width int) error {
	s, ok := p.(snapshotter)
	if !ok {
		return errNoSnapshot
	}
	img, err := s.Snapshot()
	if err != nil {
		return err
	}
	out := scale(img, width)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, out, filepath.Ext(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// scale resizes img to width, keeping its aspect ratio. Zero or the
// current width leaves it alone.
func scale(img *image.RGBA, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width == b.Dx() {
		return img
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".png", "":
		return png.Encode(w, img)
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported snapshot format %q", ext)
	}
}
