package registry

import (
	"fmt"
	"strings"
)

// Family tags what kind of inference a model supports.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyASR
	FamilyTTSVoicePack
	FamilyTTSSingleVoice
)

func (f Family) String() string {
	switch f {
	case FamilyASR:
		return "asr"
	case FamilyTTSVoicePack:
		return "tts-voice-pack"
	case FamilyTTSSingleVoice:
		return "tts-single-voice"
	default:
		return "unknown"
	}
}

// Classify determines the family of an installed model from the file
// shapes in its snapshot. The result is cached per model id.
func (r *Registry) Classify(modelID string) Family {
	r.mu.Lock()
	if f, ok := r.families[modelID]; ok {
		r.mu.Unlock()
		return f
	}
	r.mu.Unlock()

	f := r.classify(modelID)

	r.mu.Lock()
	r.families[modelID] = f
	r.mu.Unlock()
	return f
}

func (r *Registry) classify(modelID string) Family {
	if _, ok := r.ArtifactRoot(modelID); !ok {
		return FamilyUnknown
	}

	onnx := r.findFiles(modelID, "*.onnx")
	switch {
	case len(r.findFiles(modelID, "voices*.bin")) > 0 && len(onnx) > 0:
		// A voice table next to the weights marks a multi-voice model.
		return FamilyTTSVoicePack
	case len(onnx) > 0 && len(r.findFiles(modelID, "*.onnx.json")) > 0:
		return FamilyTTSSingleVoice
	case len(r.findFiles(modelID, "ggml*.bin")) > 0 || len(r.findFiles(modelID, "model.bin")) > 0:
		return FamilyASR
	default:
		return FamilyUnknown
	}
}

// ASRArtifact locates the whisper weights for a transcription model.
type ASRArtifact struct {
	WeightsPath string
}

// VoicePackArtifact locates the weights and voice table for a
// multi-voice TTS model.
type VoicePackArtifact struct {
	WeightsPath string
	VoicesPath  string
}

// SingleVoiceArtifact locates the weights and the side-car config for
// a single-voice TTS model. The config carries the native sample rate.
type SingleVoiceArtifact struct {
	WeightsPath string
	ConfigPath  string
}

func (r *Registry) ResolveASR(modelID string) (ASRArtifact, error) {
	weights := r.findFiles(modelID, "ggml*.bin")
	if len(weights) == 0 {
		weights = r.findFiles(modelID, "model.bin")
	}
	if len(weights) == 0 {
		return ASRArtifact{}, fmt.Errorf("%w: no weights for %s", ErrModelNotFound, modelID)
	}
	return ASRArtifact{WeightsPath: weights[0]}, nil
}

func (r *Registry) ResolveVoicePack(modelID string) (VoicePackArtifact, error) {
	weights := r.findFiles(modelID, "*.onnx")
	voices := r.findFiles(modelID, "voices*.bin")
	if len(weights) == 0 || len(voices) == 0 {
		return VoicePackArtifact{}, fmt.Errorf("%w: incomplete voice pack for %s", ErrModelNotFound, modelID)
	}
	return VoicePackArtifact{WeightsPath: weights[0], VoicesPath: voices[0]}, nil
}

func (r *Registry) ResolveSingleVoice(modelID string) (SingleVoiceArtifact, error) {
	weights := r.findFiles(modelID, "*.onnx")
	if len(weights) == 0 {
		return SingleVoiceArtifact{}, fmt.Errorf("%w: no weights for %s", ErrModelNotFound, modelID)
	}
	config := weights[0] + ".json"
	for _, c := range r.findFiles(modelID, "*.onnx.json") {
		if c == config {
			return SingleVoiceArtifact{WeightsPath: weights[0], ConfigPath: c}, nil
		}
	}
	return SingleVoiceArtifact{}, fmt.Errorf("%w: no voice config for %s", ErrModelNotFound, modelID)
}

// ownerOf returns the owner half of an "owner/name" id.
func ownerOf(modelID string) string {
	owner, _, ok := strings.Cut(modelID, "/")
	if !ok {
		return modelID
	}
	return owner
}
