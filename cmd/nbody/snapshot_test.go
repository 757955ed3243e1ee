package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/nbody/gpucore"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestScale(t *testing.T) {
	img := testImage()
	tests := []struct {
		width      int
		wantW      int
		wantH      int
		wantSame bool
	}{
		{0, 8, 4, true},
		{8, 8, 4, true},
		{16, 16, 8, false},
		{2, 2, 1, false},
		{1, 1, 1, false},
	}
	for _, tt := range tests {
		got := scale(img, tt.width)
		b := got.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("scale(%d) = %dx%d, want %dx%d", tt.width, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
		}
		if same := got == image.Image(img); same != tt.wantSame {
			t.Errorf("scale(%d) returned the source: %v", tt.width, same)
		}
	}
}

func TestEncode(t *testing.T) {
	img := testImage()
	decoders := map[string]func(*bytes.Reader) (image.Image, error){
		".png":  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		".PNG":  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		".bmp":  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
		".tif":  func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
		".tiff": func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
	}
	for ext, decode := range decoders {
		t.Run(ext, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encode(&buf, img, ext); err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Bounds() != img.Bounds() {
				t.Errorf("bounds = %v, want %v", out.Bounds(), img.Bounds())
			}
			r, _, _, _ := out.At(1, 1).RGBA()
			if r>>8 != 255 {
				t.Errorf("pixel (1,1) red = %d, want 255", r>>8)
			}
		})
	}

	if err := encode(&bytes.Buffer{}, img, ".gif"); err == nil {
		t.Error("encode .gif: expected error")
	}
}

type noSnapshot struct{ gpucore.Presenter }

func TestWriteSnapshotUnsupported(t *testing.T) {
	err := writeSnapshot(noSnapshot{}, t.TempDir()+"/out.png", 0)
	if !errors.Is(err, errNoSnapshot) {
		t.Errorf("err = %v, want %v", err, errNoSnapshot)
	}
}
