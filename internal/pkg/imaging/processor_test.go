package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestMeasure(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	dim, err := p.Measure(encodePNG(t, 108, 192))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if dim.Width != 108 || dim.Height != 192 {
		t.Fatalf("unexpected dimensions %+v", dim)
	}
}

func TestMeasureRejectsGarbage(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	if _, err := p.Measure(nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
	if _, err := p.Measure([]byte("definitely not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCoverResizesAndCrops(t *testing.T) {
	p := NewProcessor(Config{MaxWidth: 100, MaxHeight: 100, ThumbWidth: 32, ThumbHeight: 18, Quality: 80})

	out, err := p.Cover(encodePNG(t, 400, 200))
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if out.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q", out.ContentType)
	}
	if out.Width != 100 || out.Height != 50 {
		t.Fatalf("cover size = %dx%d, want 100x50", out.Width, out.Height)
	}
	if out.ThumbWidth != 32 || out.ThumbHeight != 18 {
		t.Fatalf("thumb size = %dx%d, want 32x18", out.ThumbWidth, out.ThumbHeight)
	}
	if len(out.Original) == 0 || len(out.Thumbnail) == 0 {
		t.Fatal("expected encoded bytes")
	}
}

func TestCoverPortraitThumbnail(t *testing.T) {
	p := NewProcessor(Config{MaxWidth: 100, MaxHeight: 100, ThumbWidth: 32, ThumbHeight: 18, Quality: 80})

	out, err := p.Cover(encodePNG(t, 90, 160))
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	if out.ThumbWidth != 18 || out.ThumbHeight != 32 {
		t.Fatalf("thumb size = %dx%d, want 18x32", out.ThumbWidth, out.ThumbHeight)
	}
}

func TestGeneratePaths(t *testing.T) {
	cover, thumb := GeneratePaths("acc", "vid")
	if cover != "covers/acc/vid.jpg" || thumb != "covers/acc/vid_thumb.jpg" {
		t.Fatalf("unexpected paths %q %q", cover, thumb)
	}
}
