// Package executor hosts the shared plumbing for the inference
// backends: ONNX Runtime session management and execution-provider
// placement. The per-family backends live in subpackages.
package executor

import "slices"

// defaultProviderPriority is the provider order used when the
// configuration does not specify one. CPU is always available.
var defaultProviderPriority = []string{"cuda", "coreml", "cpu"}

// ResolveProviders computes the execution-provider order once from the
// configured priority minus the exclusion list. CPU is always kept as
// the final fallback.
func ResolveProviders(priority, exclude []string) []string {
	if len(priority) == 0 {
		priority = defaultProviderPriority
	}

	resolved := make([]string, 0, len(priority))
	for _, p := range priority {
		if p == "" || slices.Contains(exclude, p) || slices.Contains(resolved, p) {
			continue
		}
		resolved = append(resolved, p)
	}
	if !slices.Contains(resolved, "cpu") {
		resolved = append(resolved, "cpu")
	}
	return resolved
}
