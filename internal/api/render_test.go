package api

import (
	"strings"
	"testing"
	"time"

	"github.com/example/speaches/internal/executor/whisper"
)

func TestSRTFormatTimestamp(t *testing.T) {
	tests := []struct {
		ts   float64
		want string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{3601.234, "01:00:01,234"},
		{23423.4234, "06:30:23,423"},
		{-1, "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := SRTFormatTimestamp(tt.ts); got != tt.want {
			t.Errorf("SRTFormatTimestamp(%v) = %q, want %q", tt.ts, got, tt.want)
		}
	}
}

func TestVTTFormatTimestamp(t *testing.T) {
	if got := VTTFormatTimestamp(3601.234); got != "01:00:01.234" {
		t.Errorf("VTTFormatTimestamp = %q", got)
	}
}

func testSegments() []TranscriptionSegment {
	return []TranscriptionSegment{
		{ID: 0, Start: 0.5, End: 2.0, Text: " Hello there."},
		{ID: 1, Start: 2.0, End: 4.0, Text: " General Kenobi."},
	}
}

func TestSegmentsToText(t *testing.T) {
	if got := SegmentsToText(testSegments()); got != "Hello there. General Kenobi." {
		t.Errorf("SegmentsToText = %q", got)
	}
}

func TestSegmentsToSRT(t *testing.T) {
	got := SegmentsToSRT(testSegments())
	want := "1\n00:00:00,500 --> 00:00:02,000\n Hello there.\n\n" +
		"2\n00:00:02,000 --> 00:00:04,000\n General Kenobi.\n\n"
	if got != want {
		t.Errorf("SegmentsToSRT = %q, want %q", got, want)
	}
}

func TestSegmentsToVTT(t *testing.T) {
	got := SegmentsToVTT(testSegments())
	if !strings.HasPrefix(got, "WEBVTT\n\n") {
		t.Fatalf("missing WEBVTT header: %q", got)
	}
	// First cue starts at zero regardless of the segment start.
	if !strings.Contains(got, "00:00:00.000 --> 00:00:02.000") {
		t.Errorf("first cue not zero-based: %q", got)
	}
	if !strings.Contains(got, "00:00:02.000 --> 00:00:04.000") {
		t.Errorf("second cue missing: %q", got)
	}
	if got := SegmentsToVTT(nil); got != "WEBVTT\n\n" {
		t.Errorf("empty VTT = %q", got)
	}
}

func TestSegmentFromWhisper(t *testing.T) {
	seg := SegmentFromWhisper(whisper.Segment{
		ID:    3,
		Start: 1500 * time.Millisecond,
		End:   2500 * time.Millisecond,
		Text:  " hi",
		Words: []whisper.Word{
			{Word: "hi", Start: 1500 * time.Millisecond, End: 2000 * time.Millisecond, Probability: 0.9},
		},
	})
	if seg.ID != 3 || seg.Start != 1.5 || seg.End != 2.5 || seg.Text != " hi" {
		t.Errorf("segment = %+v", seg)
	}
	if len(seg.Words) != 1 || seg.Words[0].Probability != 0.9 {
		t.Errorf("words = %+v", seg.Words)
	}
	if seg.Tokens == nil {
		t.Error("tokens must marshal as [] not null")
	}
}

func TestCollectWords(t *testing.T) {
	segments := []TranscriptionSegment{
		{Words: []TranscriptionWord{{Word: "a"}, {Word: "b"}}},
		{Words: []TranscriptionWord{{Word: "c"}}},
	}
	words := CollectWords(segments)
	if len(words) != 3 || words[2].Word != "c" {
		t.Errorf("words = %+v", words)
	}
}

func TestNewListModelsResponse(t *testing.T) {
	resp := NewListModelsResponse(nil)
	if resp.Object != "list" || resp.Data == nil {
		t.Errorf("resp = %+v", resp)
	}
	m := NewModel("owner/name", 42, "owner")
	if m.Object != "model" || m.Created != 42 {
		t.Errorf("model = %+v", m)
	}
}
