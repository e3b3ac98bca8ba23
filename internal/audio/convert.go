package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Format is a supported TTS response container.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
)

// ParseFormat validates a response_format value. opus and aac are
// recognized OpenAI formats this server does not produce.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMP3, FormatFLAC, FormatWAV, FormatPCM:
		return Format(s), nil
	case "opus", "aac":
		return "", fmt.Errorf("response_format %q is not supported", s)
	default:
		return "", fmt.Errorf("unknown response_format %q", s)
	}
}

func (f Format) MediaType() string { return "audio/" + string(f) }

// Streamable reports whether chunks of the format can be written as
// they arrive. WAV and FLAC need the full PCM stream before muxing.
func (f Format) Streamable() bool {
	return f == FormatMP3 || f == FormatPCM
}

// Converter turns raw 16-bit mono PCM into a container format. Codec
// conversion proper is an external collaborator; this interface is the
// seam it plugs into.
type Converter interface {
	Convert(ctx context.Context, pcm []byte, sampleRate int, format Format) ([]byte, error)
}

// Decoder turns an uploaded audio file into mono float32 samples at
// the requested rate.
type Decoder interface {
	Decode(ctx context.Context, data []byte, targetRate int) ([]float32, error)
}

// FFmpegTranscoder implements Converter and Decoder. WAV and PCM are
// handled natively; anything else is piped through an ffmpeg
// subprocess on stdin/stdout.
type FFmpegTranscoder struct {
	// Path to the ffmpeg executable; "ffmpeg" when empty.
	Path string
}

func (t *FFmpegTranscoder) executable() string {
	if t.Path != "" {
		return t.Path
	}
	return "ffmpeg"
}

// Convert muxes PCM into the requested container.
func (t *FFmpegTranscoder) Convert(ctx context.Context, pcm []byte, sampleRate int, format Format) ([]byte, error) {
	switch format {
	case FormatPCM:
		return pcm, nil
	case FormatWAV:
		return WrapPCM16(pcm, sampleRate)
	case FormatMP3, FormatFLAC:
		return t.run(ctx, pcm,
			"-f", "s16le", "-ar", strconv.Itoa(sampleRate), "-ac", "1", "-i", "pipe:0",
			"-f", string(format), "pipe:1")
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Decode produces mono float32 samples at targetRate from an uploaded
// file. WAV input is decoded in-process; other containers go through
// ffmpeg.
func (t *FFmpegTranscoder) Decode(ctx context.Context, data []byte, targetRate int) ([]float32, error) {
	if samples, rate, err := DecodeWAV(data); err == nil {
		return Resample(samples, rate, targetRate)
	}

	out, err := t.run(ctx, data,
		"-i", "pipe:0",
		"-f", "s16le", "-ar", strconv.Itoa(targetRate), "-ac", "1", "pipe:1")
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return DecodePCM16(out), nil
}

func (t *FFmpegTranscoder) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, t.executable(), fullArgs...)
	cmd.Stdin = bytes.NewReader(stdin)

	var out bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		msg := errBuf.String()
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return out.Bytes(), nil
}

var _ Converter = (*FFmpegTranscoder)(nil)
var _ Decoder = (*FFmpegTranscoder)(nil)
