package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono float32 samples from srcRate to dstRate.
// Returns the input untouched when the rates already match.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate == dstRate {
		return samples, nil
	}
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", srcRate, dstRate)
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler %d -> %d: %w", srcRate, dstRate, err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", srcRate, dstRate, err)
	}

	out := make([]float32, len(output))
	for i, s := range output {
		switch {
		case s > 1.0:
			out[i] = 1.0
		case s < -1.0:
			out[i] = -1.0
		default:
			out[i] = float32(s)
		}
	}
	return out, nil
}
