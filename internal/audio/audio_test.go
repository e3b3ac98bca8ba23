package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999, -0.999}
	out := DecodePCM16(EncodePCM16(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768.0 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	buf := EncodePCM16([]float32{2.0, -2.0})
	hi := int16(binary.LittleEndian.Uint16(buf[0:2]))
	lo := int16(binary.LittleEndian.Uint16(buf[2:4]))
	if hi != 32767 {
		t.Errorf("positive overflow clamped to %d, want 32767", hi)
	}
	if lo != -32767 {
		t.Errorf("negative overflow clamped to %d, want -32767", lo)
	}
}

func TestDecodePCM16OddTrailingByte(t *testing.T) {
	if got := DecodePCM16([]byte{0, 0, 7}); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestWrapPCM16Header(t *testing.T) {
	pcm := make([]byte, 100)
	data, err := WrapPCM16(pcm, 24000)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44+100 {
		t.Fatalf("total size = %d, want 144", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 24000 {
		t.Errorf("sample rate = %d, want 24000", rate)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 100 {
		t.Errorf("data size = %d, want 100", size)
	}
}

func TestWrapPCM16RejectsBadRate(t *testing.T) {
	if _, err := WrapPCM16(nil, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := make([]float32, 240)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 24000))
	}

	data, err := EncodeWAV(in, 24000)
	if err != nil {
		t.Fatal(err)
	}

	out, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 2.0/32768.0 {
			t.Fatalf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Error("expected error for invalid input")
	}
	if _, _, err := DecodeWAV(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out, err := Resample(in, 16000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("identity resample changed length: %d", len(out))
	}
}

func TestResampleChangesLength(t *testing.T) {
	in := make([]float32, 24000)
	out, err := Resample(in, 24000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	// One second of audio should stay roughly one second long.
	if len(out) < 15000 || len(out) > 17000 {
		t.Fatalf("resampled length = %d, want ~16000", len(out))
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"mp3", FormatMP3, false},
		{"flac", FormatFLAC, false},
		{"wav", FormatWAV, false},
		{"pcm", FormatPCM, false},
		{"opus", "", true},
		{"aac", "", true},
		{"ogg", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatStreamable(t *testing.T) {
	if !FormatMP3.Streamable() || !FormatPCM.Streamable() {
		t.Error("mp3 and pcm must be streamable")
	}
	if FormatWAV.Streamable() || FormatFLAC.Streamable() {
		t.Error("wav and flac must not be streamable")
	}
}

func TestFormatMediaType(t *testing.T) {
	if got := FormatMP3.MediaType(); got != "audio/mp3" {
		t.Errorf("MediaType = %q", got)
	}
}

func TestConvertPCMPassthrough(t *testing.T) {
	tr := &FFmpegTranscoder{}
	pcm := []byte{1, 2, 3, 4}
	out, err := tr.Convert(t.Context(), pcm, 24000, FormatPCM)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, pcm) {
		t.Error("pcm passthrough modified data")
	}
}

func TestConvertWAVNative(t *testing.T) {
	tr := &FFmpegTranscoder{}
	out, err := tr.Convert(t.Context(), make([]byte, 10), 24000, FormatWAV)
	if err != nil {
		t.Fatal(err)
	}
	if string(out[0:4]) != "RIFF" {
		t.Error("wav output missing RIFF marker")
	}
}
