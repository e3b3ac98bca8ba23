package executor

import (
	"context"
	"fmt"
	"log/slog"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

const defaultORTAPIVersion = 23

// ORTOptions holds ONNX Runtime settings shared by all sessions.
type ORTOptions struct {
	// LibraryPath locates the onnxruntime shared library.
	LibraryPath string
	APIVersion  uint32
	// Providers is the resolved execution-provider order; informational
	// until the bindings grow provider selection.
	Providers []string
	Logger    *slog.Logger
}

// ORTSession wraps one ONNX Runtime session for a single model graph.
type ORTSession struct {
	name    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewORTSession loads a model graph into a fresh runtime and env.
func NewORTSession(name, modelPath string, opts ORTOptions) (*ORTSession, error) {
	if opts.APIVersion == 0 {
		opts.APIVersion = defaultORTAPIVersion
	}

	runtime, err := ort.NewRuntime(opts.LibraryPath, opts.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime for %q: %w", name, err)
	}

	env, err := runtime.NewEnv("speaches-"+name, ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env for %q: %w", name, err)
	}

	session, err := runtime.NewSession(env, modelPath, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()
		return nil, fmt.Errorf("ort session for %q (%s): %w", name, modelPath, err)
	}

	if opts.Logger != nil {
		opts.Logger.Debug("created ort session",
			"name", name, "model_path", modelPath, "providers", opts.Providers)
	}

	return &ORTSession{name: name, runtime: runtime, env: env, session: session}, nil
}

// Run executes the graph with named input tensors. The caller owns the
// returned values and must close them.
func (s *ORTSession) Run(ctx context.Context, inputs map[string]*ort.Value) (map[string]*ort.Value, error) {
	outputs, err := s.session.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", s.name, err)
	}
	return outputs, nil
}

func (s *ORTSession) Float32Input(data []float32, shape []int64) (*ort.Value, error) {
	return ort.NewTensorValue(s.runtime, data, shape)
}

func (s *ORTSession) Int64Input(data []int64, shape []int64) (*ort.Value, error) {
	return ort.NewTensorValue(s.runtime, data, shape)
}

// Float32Output extracts a named float32 tensor from a run result.
func Float32Output(outputs map[string]*ort.Value, name string) ([]float32, []int64, error) {
	v, ok := outputs[name]
	if !ok {
		// Some graphs name their single output differently across
		// exports; fall back to the sole output when there is one.
		if len(outputs) == 1 {
			for _, only := range outputs {
				v = only
			}
		} else {
			return nil, nil, fmt.Errorf("missing output %q", name)
		}
	}
	data, shape, err := ort.GetTensorData[float32](v)
	if err != nil {
		return nil, nil, fmt.Errorf("output %q: %w", name, err)
	}
	return data, shape, nil
}

// CloseValues releases a tensor map. Safe on nil maps and values.
func CloseValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}

// Close releases all ORT resources. Safe to call multiple times.
func (s *ORTSession) Close() {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	if s.env != nil {
		s.env.Close()
		s.env = nil
	}
	if s.runtime != nil {
		_ = s.runtime.Close()
		s.runtime = nil
	}
}
