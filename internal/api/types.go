// Package api holds the OpenAI-compatible wire types and response
// renderers shared by the HTTP handlers.
package api

import (
	"github.com/example/speaches/internal/executor/whisper"
)

type TranscriptionWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type TranscriptionSegment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`

	Words []TranscriptionWord `json:"words,omitempty"`
}

type TranscriptionResponse struct {
	Text string `json:"text"`
}

type TranscriptionVerboseResponse struct {
	Task     string                 `json:"task"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Text     string                 `json:"text"`
	Words    []TranscriptionWord    `json:"words,omitempty"`
	Segments []TranscriptionSegment `json:"segments"`
}

// SegmentFromWhisper converts one decoded segment to the wire shape.
func SegmentFromWhisper(seg whisper.Segment) TranscriptionSegment {
	out := TranscriptionSegment{
		ID:     seg.ID,
		Start:  seg.Start.Seconds(),
		End:    seg.End.Seconds(),
		Text:   seg.Text,
		Tokens: []int{},
	}
	for _, w := range seg.Words {
		out.Words = append(out.Words, TranscriptionWord{
			Start:       w.Start.Seconds(),
			End:         w.End.Seconds(),
			Word:        w.Word,
			Probability: w.Probability,
		})
	}
	return out
}

// SegmentsFromWhisper converts a full decode result.
func SegmentsFromWhisper(segs []whisper.Segment) []TranscriptionSegment {
	out := make([]TranscriptionSegment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, SegmentFromWhisper(seg))
	}
	return out
}

// CollectWords flattens the word lists of all segments.
func CollectWords(segments []TranscriptionSegment) []TranscriptionWord {
	var words []TranscriptionWord
	for _, seg := range segments {
		words = append(words, seg.Words...)
	}
	return words
}

type Model struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type ListModelsResponse struct {
	Data   []Model `json:"data"`
	Object string  `json:"object"`
}

func NewModel(id string, created int64, ownedBy string) Model {
	return Model{ID: id, Created: created, Object: "model", OwnedBy: ownedBy}
}

func NewListModelsResponse(models []Model) ListModelsResponse {
	if models == nil {
		models = []Model{}
	}
	return ListModelsResponse{Data: models, Object: "list"}
}
