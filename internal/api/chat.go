package api

// Outbound chat-completion shapes. Upstream responses are decoded with
// the OpenAI client library; these mirror only what this server
// rewrites or fabricates on the way back out.

type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role    string      `json:"role,omitempty"`
	Content *string     `json:"content,omitempty"`
	Audio   *AudioDelta `json:"audio,omitempty"`
}

// AudioDelta carries either a transcript fragment or a base64 PCM
// fragment, both keyed to the same per-response audio id.
type AudioDelta struct {
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Data       string `json:"data,omitempty"`
	ExpiresAt  int64  `json:"expires_at,omitempty"`
}

type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Audio   *MessageAudio `json:"audio,omitempty"`
}

// MessageAudio is the embedded audio of a non-streaming response.
type MessageAudio struct {
	ID         string `json:"id"`
	Data       string `json:"data"`
	Transcript string `json:"transcript"`
	ExpiresAt  int64  `json:"expires_at"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
