package whisper

import "testing"

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"empty", Options{}, ""},
		{"prompt only", Options{InitialPrompt: "context here"}, "context here"},
		{"hotwords only", Options{Hotwords: "Kubernetes"}, "Kubernetes"},
		{"both", Options{InitialPrompt: "context", Hotwords: "Kubernetes"}, "context Kubernetes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildPrompt(tt.opts); got != tt.want {
				t.Errorf("buildPrompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskOrDefault(t *testing.T) {
	if got := taskOrDefault(""); got != TaskTranscribe {
		t.Errorf("empty task = %q", got)
	}
	if got := taskOrDefault(TaskTranslate); got != TaskTranslate {
		t.Errorf("translate task = %q", got)
	}
}

func TestText(t *testing.T) {
	segments := []Segment{
		{Text: " Hello there. "},
		{Text: ""},
		{Text: "General Kenobi."},
	}
	if got := Text(segments); got != "Hello there. General Kenobi." {
		t.Errorf("Text = %q", got)
	}
	if got := Text(nil); got != "" {
		t.Errorf("Text(nil) = %q", got)
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(t.Context(), "", nil); err == nil {
		t.Error("expected error for empty weights path")
	}
}
