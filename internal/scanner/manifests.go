package scanner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	readmeLimit  = 4000
	licenseLimit = 1500
)

// Candidate files, in preference order where it matters.
var (
	requirementFiles = []string{
		"requirements.txt",
		"requirements-dev.txt",
		"dev-requirements.txt",
		"requirements/requirements.txt",
	}

	configFiles = []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"configs.yaml",
		"configs.yml",
		"configs.json",
	}

	readmeCandidates  = []string{"README.md", "readme.md", "README.rst", "readme.rst", "README.txt"}
	licenseCandidates = []string{"LICENSE", "LICENSE.txt", "LICENSE.md"}
)

// detectRequirements reads every known dependency list that exists.
func detectRequirements(root string) map[string][]string {
	reqs := make(map[string][]string)
	for _, name := range requirementFiles {
		path := filepath.Join(root, filepath.FromSlash(name))
		if !fileExists(path) {
			continue
		}
		text, err := readText(path)
		if err != nil {
			continue
		}
		reqs[name] = parseRequirements(text)
	}
	return reqs
}

// parseRequirements returns trimmed requirement lines without blanks or
// comment lines.
func parseRequirements(text string) []string {
	lines := []string{}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// detectConfigFiles parses known JSON/YAML config files. A file that fails
// to parse is recorded as {"error": msg}.
func detectConfigFiles(root string) map[string]any {
	configs := make(map[string]any)
	for _, name := range configFiles {
		path := filepath.Join(root, name)
		if !fileExists(path) {
			continue
		}
		v, err := parseConfigFile(path)
		if err != nil {
			configs[name] = map[string]any{"error": err.Error()}
			continue
		}
		configs[name] = v
	}
	return configs
}

func parseConfigFile(path string) (any, error) {
	text, err := readText(path)
	if err != nil {
		return nil, err
	}

	var v any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return v, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return normalizeYAML(v), nil
	}
	return map[string]any{}, nil
}

// normalizeYAML converts mappings with non-string keys so the value can be
// encoded as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	}
	return v
}

// firstExcerpt returns the first readable candidate, truncated to limit
// characters.
func firstExcerpt(root string, candidates []string, limit int) *Excerpt {
	for _, name := range candidates {
		path := filepath.Join(root, name)
		if !fileExists(path) {
			continue
		}
		text, err := readText(path)
		if err != nil {
			continue
		}
		return &Excerpt{File: name, Text: truncateRunes(text, limit)}
	}
	return nil
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
