package generation

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// PayloadKind tags the shape of a terminal response.
type PayloadKind int

const (
	PayloadUnrecognized PayloadKind = iota
	PayloadSampleList
	PayloadVideoList
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadSampleList:
		return "sample_list"
	case PayloadVideoList:
		return "video_list"
	default:
		return "unrecognized"
	}
}

// SampleVideo is the first generated sample of a sample-list payload.
type SampleVideo struct {
	URI string
}

// VideoEntry is the first video of a video-list payload. One of GCSURI or
// BytesBase64 is set.
type VideoEntry struct {
	GCSURI      string
	BytesBase64 string
	MimeType    string
}

// ResultPayload is a classified terminal response.
type ResultPayload struct {
	Kind   PayloadKind
	Sample *SampleVideo
	Video  *VideoEntry
}

const (
	samplePath       = "generateVideoResponse.generatedSamples.0.video.uri"
	videoGCSPath     = "videos.0.gcsUri"
	videoBytesPath   = "videos.0.bytesBase64Encoded"
	videoMimePath    = "videos.0.mimeType"
	defaultVideoMIME = "video/mp4"
)

// ClassifyPayload recognizes the sample-list and video-list shapes.
func ClassifyPayload(raw json.RawMessage) ResultPayload {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return ResultPayload{Kind: PayloadUnrecognized}
	}

	if uri := gjson.GetBytes(raw, samplePath); uri.String() != "" {
		return ResultPayload{Kind: PayloadSampleList, Sample: &SampleVideo{URI: uri.String()}}
	}

	gcs := gjson.GetBytes(raw, videoGCSPath).String()
	inline := gjson.GetBytes(raw, videoBytesPath).String()
	if gcs != "" || inline != "" {
		entry := &VideoEntry{GCSURI: gcs, MimeType: gjson.GetBytes(raw, videoMimePath).String()}
		if gcs == "" {
			entry.BytesBase64 = inline
		}
		return ResultPayload{Kind: PayloadVideoList, Video: entry}
	}

	return ResultPayload{Kind: PayloadUnrecognized}
}

// Locator returns the video locator: a remote URI or a data: URI.
func (p ResultPayload) Locator(apiKey string) (string, error) {
	switch p.Kind {
	case PayloadSampleList:
		return withAPIKey(p.Sample.URI, apiKey), nil
	case PayloadVideoList:
		if p.Video.GCSURI != "" {
			return p.Video.GCSURI, nil
		}
		mimeType := p.Video.MimeType
		if mimeType == "" {
			mimeType = defaultVideoMIME
		}
		return "data:" + mimeType + ";base64," + p.Video.BytesBase64, nil
	default:
		return "", newError(KindUnrecognizedResult, "response carries no sample uri, storage uri or inline bytes", nil)
	}
}

// ParseResult classifies raw and returns its locator.
func ParseResult(raw json.RawMessage, apiKey string) (string, PayloadKind, error) {
	payload := ClassifyPayload(raw)
	locator, err := payload.Locator(apiKey)
	return locator, payload.Kind, err
}

// withAPIKey authorizes a download URI unless it already carries a key.
func withAPIKey(uri, apiKey string) string {
	if apiKey == "" || strings.Contains(uri, "key=") {
		return uri
	}
	// append only; the provider's own query must reach it byte for byte
	base, fragment, hasFragment := strings.Cut(uri, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	out := base + sep + "key=" + url.QueryEscape(apiKey)
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// IsInlineLocator reports whether the locator embeds the video bytes.
func IsInlineLocator(locator string) bool {
	return strings.HasPrefix(locator, "data:")
}
