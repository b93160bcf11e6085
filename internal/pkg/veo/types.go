package veo

import (
	"bytes"
	"encoding/json"
)

// PredictRequest is the body of a predictLongRunning call.
type PredictRequest struct {
	Instances  []Instance `json:"instances"`
	Parameters Parameters `json:"parameters"`
}

type Instance struct {
	Prompt string `json:"prompt"`
	Image  *Image `json:"image,omitempty"`
}

// Image carries an inline source image.
type Image struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type Parameters struct {
	SampleCount      int    `json:"sampleCount"`
	DurationSeconds  int    `json:"durationSeconds"`
	PersonGeneration string `json:"personGeneration"`
	AspectRatio      string `json:"aspectRatio"`
}

// Operation is the long-running operation resource returned by submit and poll.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    json.RawMessage `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Failed reports whether the operation finished with an error object.
func (o *Operation) Failed() bool {
	if o == nil {
		return false
	}
	trimmed := bytes.TrimSpace(o.Error)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
