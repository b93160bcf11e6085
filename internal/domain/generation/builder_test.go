package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/clipcraft/clipcraft-api/internal/pkg/imaging"
)

type fakeMeasurer struct {
	dims imaging.Dimensions
	err  error
}

func (f fakeMeasurer) Measure([]byte) (imaging.Dimensions, error) { return f.dims, f.err }

func TestBuildWithoutImage(t *testing.T) {
	b := NewBuilder(fakeMeasurer{})

	p, err := b.Build(context.Background(), Request{Prompt: "  a cat on a skateboard "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inst := p.Body.Instances[0]
	if inst.Prompt != "a cat on a skateboard" || inst.Image != nil {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	params := p.Body.Parameters
	if params.SampleCount != 1 || params.DurationSeconds != 5 || params.PersonGeneration != "allow_adult" || params.AspectRatio != "16:9" {
		t.Fatalf("unexpected parameters: %+v", params)
	}
}

func TestBuildHonoursExplicitRatioWithoutImage(t *testing.T) {
	b := NewBuilder(fakeMeasurer{})

	p, _ := b.Build(context.Background(), Request{Prompt: "city at night", AspectRatio: "9:16"})
	if p.AspectRatio != "9:16" || p.Body.Parameters.AspectRatio != "9:16" {
		t.Fatalf("expected 9:16, got %s", p.AspectRatio)
	}
}

func TestBuildWithPortraitImage(t *testing.T) {
	b := NewBuilder(fakeMeasurer{dims: imaging.Dimensions{Width: 1080, Height: 1920}})
	data := []byte("fake image bytes")

	p, err := b.Build(context.Background(), Request{
		Prompt: "make it dance",
		Image:  &SourceImage{Data: data, MimeType: "image/png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inst := p.Body.Instances[0]
	if inst.Image == nil || inst.Image.MimeType != "image/png" {
		t.Fatalf("expected inline image, got %+v", inst.Image)
	}
	if inst.Image.BytesBase64Encoded != base64.StdEncoding.EncodeToString(data) {
		t.Fatal("image bytes not base64 encoded")
	}
	if p.DetectedRatio != "9:16" || p.Body.Parameters.AspectRatio != "9:16" {
		t.Fatalf("expected 9:16, got detected=%s param=%s", p.DetectedRatio, p.Body.Parameters.AspectRatio)
	}
	if !strings.Contains(inst.Prompt, "MUST have a 9:16 aspect ratio") || !strings.HasSuffix(inst.Prompt, "Animate this image: make it dance") {
		t.Fatalf("ratio instruction missing from prompt: %q", inst.Prompt)
	}
}

func TestBuildMeasurementFailureDefaultsToLandscape(t *testing.T) {
	b := NewBuilder(fakeMeasurer{err: errors.New("corrupt")})

	p, err := b.Build(context.Background(), Request{
		Prompt: "waves",
		Image:  &SourceImage{Data: []byte{0x89, 0x50, 0x4e, 0x47}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AspectRatio != "16:9" {
		t.Fatalf("expected 16:9, got %s", p.AspectRatio)
	}
	if p.Body.Instances[0].Image.MimeType == "" {
		t.Fatal("expected sniffed mime type")
	}
}

func TestBuildImageRatioOverridesRequestedRatio(t *testing.T) {
	tests := []struct {
		name     string
		measurer fakeMeasurer
	}{
		{"landscape image", fakeMeasurer{dims: imaging.Dimensions{Width: 1920, Height: 1080}}},
		{"unmeasurable image", fakeMeasurer{err: errors.New("corrupt")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewBuilder(tt.measurer).Build(context.Background(), Request{
				Prompt:      "sunset",
				AspectRatio: "9:16",
				Image:       &SourceImage{Data: []byte("img"), MimeType: "image/jpeg"},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.AspectRatio != "16:9" || p.Body.Parameters.AspectRatio != "16:9" {
				t.Fatalf("expected 16:9, got resolved=%s param=%s", p.AspectRatio, p.Body.Parameters.AspectRatio)
			}
			prompt := p.Body.Instances[0].Prompt
			if !strings.Contains(prompt, "MUST have a 16:9 aspect ratio") || strings.Contains(prompt, "9:16") {
				t.Fatalf("prompt must carry the image ratio only: %q", prompt)
			}
		})
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	b := NewBuilder(fakeMeasurer{})

	if _, err := b.Build(context.Background(), Request{Prompt: "   "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for blank prompt, got %v", err)
	}
	if _, err := b.Build(context.Background(), Request{Prompt: "x", Image: &SourceImage{}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for empty image, got %v", err)
	}
}
