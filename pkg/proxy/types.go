package proxy

import (
	"encoding/json"

	"github.com/clawbowl/clawbowl/pkg/workspace"
)

// ChatRequest is the inbound chat completion request body.
type ChatRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
	User     string    `json:"user,omitempty"`
}

// Message is one chat message. Content arrives either as a plain string
// or as an ordered list of typed parts.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent models the string-or-parts content union. Exactly one
// of Text and Parts is meaningful; Parts takes precedence when non-nil.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

func (c *MessageContent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	return json.Unmarshal(b, &c.Parts)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ContentPart is one element of structured message content. Unrecognized
// part types keep their original encoding and are forwarded untouched.
type ContentPart struct {
	Type     string
	Text     string
	ImageURL *ImageURL
	Filename string
	Data     string

	raw json.RawMessage
}

// ImageURL wraps an image reference, typically an inline data URL.
type ImageURL struct {
	URL string `json:"url"`
}

func (p *ContentPart) UnmarshalJSON(b []byte) error {
	p.raw = append(json.RawMessage(nil), b...)
	var aux struct {
		Type     string    `json:"type"`
		Text     string    `json:"text"`
		ImageURL *ImageURL `json:"image_url"`
		Filename string    `json:"filename"`
		Data     string    `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.Type = aux.Type
	p.Text = aux.Text
	p.ImageURL = aux.ImageURL
	p.Filename = aux.Filename
	p.Data = aux.Data
	return nil
}

func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	var aux struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *ImageURL `json:"image_url,omitempty"`
		Filename string    `json:"filename,omitempty"`
		Data     string    `json:"data,omitempty"`
	}
	aux.Type = p.Type
	aux.Text = p.Text
	aux.ImageURL = p.ImageURL
	aux.Filename = p.Filename
	aux.Data = p.Data
	return json.Marshal(aux)
}

// Delta kinds emitted to the client.
const (
	DeltaThinking = "thinking"
	DeltaContent  = "content"
	DeltaFile     = "file"
)

// Delta is one typed event in the shaped SSE stream.
type Delta struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	Filtered bool               `json:"filtered,omitempty"`
	File     *workspace.NewFile `json:"file,omitempty"`
}

// Emitter receives shaped deltas and the terminal sentinel. The HTTP
// layer implements it over an SSE response writer.
type Emitter interface {
	Delta(d Delta) error
	Done() error
}

// upstreamChunk is one parsed chat-completion SSE chunk from the gateway.
type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}
