package hooks

import (
	"path/filepath"

	"github.com/andywolf/pyshim/internal/template"
)

// defaultConfigTemplate is the starting training configuration offered to
// clients. Dataset paths are rendered against the data directory.
var defaultConfigTemplate = map[string]any{
	"dataset": map[string]any{
		"train": "{{data_dir}}/datasets/train.csv",
		"val":   "{{data_dir}}/datasets/val.csv",
	},
	"model": map[string]any{
		"name":        "UCModel",
		"hidden_size": 256,
	},
	"training": map[string]any{
		"epochs":     2,
		"batch_size": 16,
		"lr":         1e-3,
	},
	"runtime": map[string]any{
		"device": "cpu",
	},
}

// DefaultConfig returns a fresh copy of the default training configuration
// with dataset paths under dataDir.
func DefaultConfig(dataDir string) Config {
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}
	vars := map[string]string{"data_dir": filepath.ToSlash(dataDir)}
	return Config(template.RenderValue(defaultConfigTemplate, vars).(map[string]any))
}
