package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andywolf/pyshim/internal/security"
	"gopkg.in/yaml.v3"
)

// WriteConfigs writes one file per entry into dir and returns the written
// paths in name order. Names without a .json/.yaml/.yml extension get
// ".json". Maps and lists are serialized (YAML for YAML names, indented JSON
// otherwise); strings are written verbatim; nil entries are skipped.
func WriteConfigs(dir string, files map[string]any) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create configs dir: %w", err)
	}

	validator := security.NewCommandValidator()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, name := range names {
		content := files[name]
		if content == nil {
			continue
		}
		if err := validator.ValidateFileName(name); err != nil {
			return written, fmt.Errorf("invalid config name: %w", err)
		}

		fileName := name
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			fileName = name + ".json"
			ext = ".json"
		}

		data, err := encodeConfig(content, ext)
		if err != nil {
			return written, fmt.Errorf("failed to encode %s: %w", name, err)
		}

		path := filepath.Join(dir, fileName)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func encodeConfig(content any, ext string) ([]byte, error) {
	switch v := content.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	if ext == ".yaml" || ext == ".yml" {
		return yaml.Marshal(content)
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
