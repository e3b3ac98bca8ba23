package chat

import (
	"encoding/json"
	"fmt"
	"slices"

	oai "github.com/openai/openai-go"
)

// Request is the inbound chat-completion body. Message content is kept
// raw until rewriting because it may be a string or a part list.
type Request struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Modalities []string  `json:"modalities,omitempty"`
	Audio      *Audio    `json:"audio,omitempty"`
	Stream     bool      `json:"stream,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`

	TranscriptionModel string `json:"transcription_model,omitempty"`
	SpeechModel        string `json:"speech_model,omitempty"`
}

type Audio struct {
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Audio   *MessageAudio   `json:"audio,omitempty"`
}

// MessageAudio is the id reference of a previous assistant turn.
type MessageAudio struct {
	ID string `json:"id"`
}

// ContentPart is one element of a list-shaped message content.
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// HasAudioModality reports whether the response should carry audio.
func (r *Request) HasAudioModality() bool {
	return slices.Contains(r.Modalities, "audio")
}

// Validate rejects shapes the server cannot serve.
func (r *Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for _, m := range r.Modalities {
		if m != "text" && m != "audio" {
			return fmt.Errorf("unsupported modality %q", m)
		}
	}
	if r.HasAudioModality() && r.Audio == nil {
		return fmt.Errorf("audio parameters are required when the audio modality is requested")
	}
	// Streaming audio is raw PCM only; buffered formats cannot be
	// muxed chunk by chunk.
	if r.Stream && r.Audio != nil && r.Audio.Format != "" && r.Audio.Format != "pcm16" {
		return fmt.Errorf("audio.format %q is not supported when stream=true; use pcm16", r.Audio.Format)
	}
	return nil
}

// contentText returns string-shaped content, or "" for list content.
func (m *Message) contentText() (string, bool) {
	if len(m.Content) == 0 {
		return "", true
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// contentParts returns list-shaped content, or nil for string content.
func (m *Message) contentParts() ([]ContentPart, bool) {
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil, false
	}
	return parts, true
}

func (m *Message) setContentText(s string) {
	m.Content, _ = json.Marshal(s)
}

// upstreamParams converts the rewritten request into the proxied
// upstream call. Modalities collapse to text; audio is synthesized
// locally.
func (r *Request) upstreamParams() (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(r.Messages))
	for i := range r.Messages {
		m := &r.Messages[i]
		content, ok := m.contentText()
		if !ok {
			if parts, listOK := m.contentParts(); listOK {
				content = joinTextParts(parts)
			} else {
				return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: unsupported content shape", i)
			}
		}
		switch m.Role {
		case "system", "developer":
			messages = append(messages, oai.SystemMessage(content))
		case "user":
			messages = append(messages, oai.UserMessage(content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    r.Model,
		Messages: messages,
	}
	if r.Temperature != nil {
		params.Temperature = oai.Float(*r.Temperature)
	}
	if r.TopP != nil {
		params.TopP = oai.Float(*r.TopP)
	}
	if r.MaxTokens != nil {
		params.MaxTokens = oai.Int(*r.MaxTokens)
	}
	return params, nil
}

func joinTextParts(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
