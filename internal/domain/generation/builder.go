package generation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/clipcraft/clipcraft-api/internal/pkg/imaging"
	"github.com/clipcraft/clipcraft-api/internal/pkg/logger"
	"github.com/clipcraft/clipcraft-api/internal/pkg/storage"
	"github.com/clipcraft/clipcraft-api/internal/pkg/veo"
)

const personGeneration = "allow_adult"

// ImageMeasurer reads the displayed size of an encoded image.
type ImageMeasurer interface {
	Measure(data []byte) (imaging.Dimensions, error)
}

// Builder turns a Request into the provider payload.
type Builder struct {
	images ImageMeasurer
}

func NewBuilder(images ImageMeasurer) *Builder {
	return &Builder{images: images}
}

// Payload is a built request plus the ratios that shaped it.
type Payload struct {
	Body          veo.PredictRequest
	AspectRatio   string
	DetectedRatio string
}

func (b *Builder) Build(ctx context.Context, req Request) (*Payload, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, newError(KindInvalidRequest, "prompt is required", nil)
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = DefaultDurationSeconds
	}

	instance := veo.Instance{Prompt: prompt}
	detected := ""

	if req.Image != nil {
		if len(req.Image.Data) == 0 {
			return nil, newError(KindInvalidRequest, "image is empty", nil)
		}

		mimeType := req.Image.MimeType
		if mimeType == "" {
			mimeType = storage.DetectContentType(req.Image.Data)
		}
		instance.Image = &veo.Image{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image.Data),
			MimeType:           mimeType,
		}

		detected = DefaultAspectRatio
		if dims, err := b.images.Measure(req.Image.Data); err != nil {
			logger.FromContext(ctx).Warn().Err(err).
				Str("filename", req.Image.Filename).
				Msg("could not measure source image, using 16:9")
		} else {
			detected = DetectAspectRatio(dims.Width, dims.Height)
		}
	}

	ratio := ResolveAspectRatio(detected, req.AspectRatio)

	// structured aspectRatio is not reliably honoured for image-conditioned jobs
	if req.Image != nil {
		instance.Prompt = fmt.Sprintf(
			"(System) Generate a high-quality video. IMPORTANT: The output video MUST have a %s aspect ratio to match the input image. Animate this image: %s",
			ratio, prompt,
		)
	}

	return &Payload{
		Body: veo.PredictRequest{
			Instances: []veo.Instance{instance},
			Parameters: veo.Parameters{
				SampleCount:      1,
				DurationSeconds:  duration,
				PersonGeneration: personGeneration,
				AspectRatio:      ratio,
			},
		},
		AspectRatio:   ratio,
		DetectedRatio: detected,
	}, nil
}
