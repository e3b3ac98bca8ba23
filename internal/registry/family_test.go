package registry

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "hexgrad/Kokoro-82M", "kokoro-v0_19.onnx", "voices.bin")
	seedModel(t, cache, "rhasspy/piper-en_US-amy-medium", "en_US-amy-medium.onnx", "en_US-amy-medium.onnx.json")
	seedModel(t, cache, "Systran/faster-whisper-small", "model.bin", "config.json", "tokenizer.json")
	seedModel(t, cache, "ggml/whisper-tiny", "ggml-tiny.bin")
	seedModel(t, cache, "owner/mystery", "weights.safetensors")

	r := newTestRegistry(t, cache)

	tests := []struct {
		modelID string
		want    Family
	}{
		{"hexgrad/Kokoro-82M", FamilyTTSVoicePack},
		{"rhasspy/piper-en_US-amy-medium", FamilyTTSSingleVoice},
		{"Systran/faster-whisper-small", FamilyASR},
		{"ggml/whisper-tiny", FamilyASR},
		{"owner/mystery", FamilyUnknown},
		{"owner/absent", FamilyUnknown},
	}
	for _, tt := range tests {
		if got := r.Classify(tt.modelID); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.modelID, got, tt.want)
		}
	}

	// Second call hits the cache and must agree.
	if got := r.Classify("hexgrad/Kokoro-82M"); got != FamilyTTSVoicePack {
		t.Errorf("cached Classify = %s", got)
	}
}

func TestResolveASR(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "Systran/faster-whisper-small", "model.bin", "config.json")

	r := newTestRegistry(t, cache)
	art, err := r.ResolveASR("Systran/faster-whisper-small")
	if err != nil {
		t.Fatal(err)
	}
	if art.WeightsPath == "" {
		t.Error("empty weights path")
	}

	if _, err := r.ResolveASR("owner/absent"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestResolveVoicePack(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "hexgrad/Kokoro-82M", "kokoro-v0_19.onnx", "voices.bin")
	seedModel(t, cache, "owner/no-voices", "model.onnx")

	r := newTestRegistry(t, cache)
	art, err := r.ResolveVoicePack("hexgrad/Kokoro-82M")
	if err != nil {
		t.Fatal(err)
	}
	if art.WeightsPath == "" || art.VoicesPath == "" {
		t.Errorf("incomplete artifact: %+v", art)
	}

	if _, err := r.ResolveVoicePack("owner/no-voices"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestResolveSingleVoice(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "rhasspy/piper-en_US-amy-medium", "en_US-amy-medium.onnx", "en_US-amy-medium.onnx.json")
	seedModel(t, cache, "owner/no-config", "voice.onnx")

	r := newTestRegistry(t, cache)
	art, err := r.ResolveSingleVoice("rhasspy/piper-en_US-amy-medium")
	if err != nil {
		t.Fatal(err)
	}
	if art.ConfigPath != art.WeightsPath+".json" {
		t.Errorf("config %q does not match weights %q", art.ConfigPath, art.WeightsPath)
	}

	if _, err := r.ResolveSingleVoice("owner/no-config"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}
