package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("image is empty")

// Dimensions are the displayed pixel size, after EXIF orientation.
type Dimensions struct {
	Width  int
	Height int
}

// ProcessedImage contains the cover variants derived from a source image
type ProcessedImage struct {
	Original    []byte
	Thumbnail   []byte
	ContentType string
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int
}

// Config for image processing
type Config struct {
	MaxWidth    int // Max width for the cover (default 1920)
	MaxHeight   int // Max height for the cover (default 1920)
	ThumbWidth  int // Thumbnail width (default 320)
	ThumbHeight int // Thumbnail height (default 180)
	Quality     int // JPEG quality 1-100 (default 85)
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		MaxWidth:    1920,
		MaxHeight:   1920,
		ThumbWidth:  320,
		ThumbHeight: 180,
		Quality:     85,
	}
}

// Processor handles image processing
type Processor struct {
	config Config
}

// NewProcessor creates image processor
func NewProcessor(config Config) *Processor {
	return &Processor{config: config}
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Measure returns the natural size of an encoded image.
func (p *Processor) Measure(data []byte) (Dimensions, error) {
	img, err := decode(data)
	if err != nil {
		return Dimensions{}, err
	}
	b := img.Bounds()
	return Dimensions{Width: b.Dx(), Height: b.Dy()}, nil
}

// Cover re-encodes a source image as a JPEG cover plus a center-cropped
// thumbnail. Thumbnail orientation follows the source (portrait sources get
// a portrait thumbnail).
func (p *Processor) Cover(data []byte) (*ProcessedImage, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	resized := img
	if img.Bounds().Dx() > p.config.MaxWidth || img.Bounds().Dy() > p.config.MaxHeight {
		resized = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	original, err := p.encode(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}

	tw, th := p.config.ThumbWidth, p.config.ThumbHeight
	if img.Bounds().Dy() > img.Bounds().Dx() {
		tw, th = th, tw
	}
	thumb := imaging.Fill(img, tw, th, imaging.Center, imaging.Lanczos)

	thumbnail, err := p.encode(thumb)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &ProcessedImage{
		Original:    original,
		Thumbnail:   thumbnail,
		ContentType: "image/jpeg",
		Width:       resized.Bounds().Dx(),
		Height:      resized.Bounds().Dy(),
		ThumbWidth:  thumb.Bounds().Dx(),
		ThumbHeight: thumb.Bounds().Dy(),
	}, nil
}

func (p *Processor) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GeneratePaths generates storage keys for a video's cover and thumbnail
func GeneratePaths(accountID, videoID string) (cover, thumb string) {
	cover = fmt.Sprintf("covers/%s/%s.jpg", accountID, videoID)
	thumb = fmt.Sprintf("covers/%s/%s_thumb.jpg", accountID, videoID)
	return
}
