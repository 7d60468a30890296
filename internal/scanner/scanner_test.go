package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// writeFiles creates files under root, keyed by forward-slash relative path.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanRepository_Empty(t *testing.T) {
	root := t.TempDir()

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatalf("ScanRepository() error: %v", err)
	}
	if !filepath.IsAbs(res.RepoRoot) {
		t.Errorf("RepoRoot = %q, want absolute path", res.RepoRoot)
	}
	if len(res.Modules) != 0 || len(res.Entrypoints) != 0 || len(res.Requirements) != 0 || len(res.Configs) != 0 {
		t.Errorf("expected empty maps, got %+v", res)
	}
	if res.Readme != nil || res.License != nil {
		t.Errorf("expected no excerpts, got readme=%v license=%v", res.Readme, res.License)
	}
}

func TestScanRepository_RootErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.py")
	if err := os.WriteFile(file, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		root    string
		wantErr error
	}{
		{name: "empty path", root: "", wantErr: ErrRootNotFound},
		{name: "missing", root: filepath.Join(t.TempDir(), "nope"), wantErr: ErrRootNotFound},
		{name: "file", root: file, wantErr: ErrNotDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScanRepository(tt.root)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ScanRepository() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScanRepository_Modules(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.py":          "import argparse\n\ndef main():\n    argparse.ArgumentParser()\n",
		"pkg/__init__.py":  "",
		"pkg/model.py":     "class A:\n    pass\n\ndef f():\n    pass\n",
		"pkg/broken.py":    "def oops(:\n",
		"pkg/notes.txt":    "not python",
		"venv/lib/site.py": "class Hidden: pass\n",
		".hidden/x.py":     "class Hidden: pass\n",
		"__pycache__/c.py": "class Hidden: pass\n",
	})

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatalf("ScanRepository() error: %v", err)
	}

	var keys []string
	for k := range res.Modules {
		keys = append(keys, k)
	}
	want := map[string]bool{"main.py": true, "pkg/__init__.py": true, "pkg/model.py": true, "pkg/broken.py": true}
	if len(keys) != len(want) {
		t.Fatalf("modules = %v, want %d entries", keys, len(want))
	}
	for _, k := range keys {
		if !want[k] {
			t.Errorf("unexpected module %q", k)
		}
	}

	model := res.Modules["pkg/model.py"]
	if !reflect.DeepEqual(model.Classes, []string{"A"}) || !reflect.DeepEqual(model.Functions, []string{"f"}) {
		t.Errorf("pkg/model.py = %+v", model)
	}
	if !res.Modules["main.py"].UsesArgparse {
		t.Error("main.py should use argparse")
	}

	broken := res.Modules["pkg/broken.py"]
	if !broken.Failed() {
		t.Errorf("pkg/broken.py should be an error record, got %+v", broken)
	}
	if res.Modules["pkg/model.py"].Failed() {
		t.Error("a syntax error in one file affected another")
	}
}

func TestScanner_MaxFiles(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("m%d.py", i)] = "x = 1\n"
	}
	writeFiles(t, root, files)

	res, err := New(root, WithMaxFiles(3)).Scan()
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(res.Modules) != 3 {
		t.Errorf("len(Modules) = %d, want 3", len(res.Modules))
	}
}

func TestScanner_ExcludeDirsOverride(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"build/gen.py":     "x = 1\n",
		"experiments/a.py": "x = 1\n",
	})

	res, err := New(root, WithExcludeDirs("experiments")).Scan()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Modules["build/gen.py"]; !ok {
		t.Error("build/ should be scanned once the default list is replaced")
	}
	if _, ok := res.Modules["experiments/a.py"]; ok {
		t.Error("experiments/ should be excluded")
	}
}

func TestScanRepository_Requirements(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"requirements.txt":              "# core\ntorch>=2.0\n\n  numpy  \n",
		"requirements/requirements.txt": "pyyaml\n",
	})

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		"requirements.txt":              {"torch>=2.0", "numpy"},
		"requirements/requirements.txt": {"pyyaml"},
	}
	if !reflect.DeepEqual(res.Requirements, want) {
		t.Errorf("Requirements = %v, want %v", res.Requirements, want)
	}
}

func TestScanRepository_Configs(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"config.yaml":  "training:\n  epochs: 3\n1: one\n",
		"config.json":  `{"model": {"name": "UCModel"}}`,
		"configs.json": `{"broken": `,
	})

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatal(err)
	}

	yml, ok := res.Configs["config.yaml"].(map[string]any)
	if !ok {
		t.Fatalf("config.yaml = %T, want map", res.Configs["config.yaml"])
	}
	training, ok := yml["training"].(map[string]any)
	if !ok || training["epochs"] != 3 {
		t.Errorf("config.yaml training = %v", yml["training"])
	}
	if yml["1"] != "one" {
		t.Errorf("non-string YAML key not normalised: %v", yml)
	}

	js, ok := res.Configs["config.json"].(map[string]any)
	if !ok || js["model"].(map[string]any)["name"] != "UCModel" {
		t.Errorf("config.json = %v", res.Configs["config.json"])
	}

	bad, ok := res.Configs["configs.json"].(map[string]any)
	if !ok {
		t.Fatalf("configs.json = %T, want error map", res.Configs["configs.json"])
	}
	if msg, _ := bad["error"].(string); !strings.Contains(msg, "invalid JSON") {
		t.Errorf("configs.json error = %v", bad)
	}
}

func TestScanRepository_Excerpts(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("é", readmeLimit+500)
	writeFiles(t, root, map[string]string{
		"README.rst":  "second choice",
		"README.md":   long,
		"LICENSE.txt": "MIT License",
	})

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Readme == nil || res.Readme.File != "README.md" {
		t.Fatalf("Readme = %+v, want README.md", res.Readme)
	}
	if n := utf8.RuneCountInString(res.Readme.Text); n != readmeLimit {
		t.Errorf("readme length = %d runes, want %d", n, readmeLimit)
	}
	if res.License == nil || res.License.File != "LICENSE.txt" || res.License.Text != "MIT License" {
		t.Errorf("License = %+v", res.License)
	}
}

func TestScanRepository_InvalidUTF8(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"README.md": "caf\xe9 notes",
	})

	res, err := ScanRepository(root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Readme == nil || res.Readme.Text != "caf\uFFFD notes" {
		t.Errorf("Readme = %+v", res.Readme)
	}
}

func TestMapModules(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py":     "class A: pass\n",
		"pkg/b.py": "def b(): pass\n",
	})
	outside := filepath.Join(filepath.Dir(root), "outside.py")
	if err := os.WriteFile(outside, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(outside) })

	got := MapModules(root, []string{"a.py", "pkg/b.py", "missing.py", "pkg", "../outside.py", ""})

	if len(got) != 2 {
		t.Fatalf("MapModules() returned %d entries: %v", len(got), got)
	}
	if !reflect.DeepEqual(got["a.py"].Classes, []string{"A"}) {
		t.Errorf("a.py = %+v", got["a.py"])
	}
	if !reflect.DeepEqual(got["pkg/b.py"].Functions, []string{"b"}) {
		t.Errorf("pkg/b.py = %+v", got["pkg/b.py"])
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{in: "hello", limit: 10, want: "hello"},
		{in: "hello", limit: 3, want: "hel"},
		{in: "привет", limit: 2, want: "пр"},
		{in: "", limit: 0, want: ""},
	}

	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
