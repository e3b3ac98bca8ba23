package executor

import (
	"reflect"
	"testing"
)

func TestResolveProviders(t *testing.T) {
	tests := []struct {
		name     string
		priority []string
		exclude  []string
		want     []string
	}{
		{"defaults", nil, nil, []string{"cuda", "coreml", "cpu"}},
		{"exclusion", nil, []string{"cuda"}, []string{"coreml", "cpu"}},
		{"custom order", []string{"coreml", "cuda", "cpu"}, nil, []string{"coreml", "cuda", "cpu"}},
		{"cpu always present", []string{"cuda"}, nil, []string{"cuda", "cpu"}},
		{"cpu cannot be excluded away", []string{"cpu"}, []string{"cpu"}, []string{"cpu"}},
		{"duplicates collapsed", []string{"cuda", "cuda", "cpu"}, nil, []string{"cuda", "cpu"}},
		{"empty entries dropped", []string{"", "cpu"}, nil, []string{"cpu"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveProviders(tt.priority, tt.exclude)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveProviders(%v, %v) = %v, want %v", tt.priority, tt.exclude, got, tt.want)
			}
		})
	}
}
