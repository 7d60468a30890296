// Package hooks defines the train, eval and infer integration points of the
// target repository.
package hooks

import "context"

// Config is a decoded training configuration document.
type Config map[string]any

// Hooks is implemented by an adapter that drives the target repository's
// own training, evaluation and inference code.
type Hooks interface {
	Train(ctx context.Context, cfg Config) (map[string]any, error)
	Eval(ctx context.Context, cfg Config) (map[string]any, error)
	Infer(ctx context.Context, cfg Config, input map[string]any) (map[string]any, error)
}

// Stub is a placeholder Hooks that returns fixed mock results. It performs
// no training or inference and exists so the HTTP surface can be exercised
// before a real adapter is written.
type Stub struct{}

var _ Hooks = Stub{}

// Train echoes training.epochs (default 1) and runtime.device (default
// "cpu") from cfg.
func (Stub) Train(_ context.Context, cfg Config) (map[string]any, error) {
	return map[string]any{
		"status": "ok",
		"epochs": lookup(cfg, "training", "epochs", 1),
		"device": lookup(cfg, "runtime", "device", "cpu"),
	}, nil
}

// Eval returns fixed metrics.
func (Stub) Eval(context.Context, Config) (map[string]any, error) {
	return map[string]any{"accuracy": 0.93, "f1": 0.91}, nil
}

// Infer returns a fixed prediction.
func (Stub) Infer(context.Context, Config, map[string]any) (map[string]any, error) {
	return map[string]any{"prediction": "UC-123", "confidence": 0.98}, nil
}

// lookup reads cfg[section][key], falling back to def when the section is
// absent or not a mapping, or the key is missing.
func lookup(cfg Config, section, key string, def any) any {
	sec, ok := cfg[section].(map[string]any)
	if !ok {
		return def
	}
	v, ok := sec[key]
	if !ok {
		return def
	}
	return v
}
