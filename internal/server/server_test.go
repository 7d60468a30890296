package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/andywolf/pyshim/internal/cloud/gcp"
	"github.com/andywolf/pyshim/internal/hooks"
	"github.com/andywolf/pyshim/internal/repo"
	"github.com/andywolf/pyshim/internal/runner"
)

type fakeSyncer struct {
	res *repo.SyncResult
	err error
}

func (f *fakeSyncer) Sync(ctx context.Context) (*repo.SyncResult, error) {
	return f.res, f.err
}

type failingHooks struct{ hooks.Stub }

func (failingHooks) Train(ctx context.Context, cfg hooks.Config) (map[string]any, error) {
	return nil, errors.New("no GPU available")
}

// recordingFactory replaces the interpreter with a shell that echoes its
// arguments and PYTHONPATH.
type recordingFactory struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *recordingFactory) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return exec.CommandContext(ctx, "sh", "-c", `printf "%s" "$PYTHONPATH"; printf "|%s" "$UC_MODE"`)
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "UC")
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not JSON: %v (%s)", method, target, err, rec.Body.String())
		}
	}
	return rec, out
}

func TestHealthAndVersion(t *testing.T) {
	h := New().Handler()

	rec, body := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("GET /health = %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodGet, "/api/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/version = %d", rec.Code)
	}
	v, ok := body["version"].(map[string]any)
	if !ok || v["version"] == "" {
		t.Errorf("version payload = %v", body["version"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := New().Handler()
	rec, _ := do(t, h, http.MethodGet, "/api/run", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/run = %d, want 405", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	h := New().Handler()

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("generated request id %q is not a uuid", rec.Header().Get(RequestIDHeader))
	}

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-an-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "not-an-id" {
		t.Error("malformed incoming request id was echoed back")
	}
}

func TestRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := gcp.NewCloudLogger(gcp.WithWriter(&buf))
	h := New(WithLogger(logger)).Handler()

	do(t, h, http.MethodGet, "/health", "")

	var entry gcp.LogEntry
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line %q: %v", line, err)
	}
	if entry.Message != "request handled" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Labels["path"] != "/health" || entry.Labels["method"] != http.MethodGet {
		t.Errorf("Labels = %v", entry.Labels)
	}
	if entry.Fields["status"] != float64(http.StatusOK) {
		t.Errorf("status field = %v", entry.Fields["status"])
	}
}

func TestRepoRequired(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "UC")
	h := New(WithRepoDir(missing)).Handler()

	tests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/api/scan", ""},
		{http.MethodPost, "/api/module-map", `["a.py"]`},
		{http.MethodGet, "/api/entrypoints", ""},
		{http.MethodGet, "/api/help?module=uc", ""},
		{http.MethodPost, "/api/run", `{"args":["train"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body["error"] != errRepoMissing {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestClone(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sy := &fakeSyncer{res: &repo.SyncResult{Action: repo.ActionClone, Path: "/data/repos/UC", Head: "abc123", Log: "done"}}
		rec, body := do(t, New(WithSyncer(sy)).Handler(), http.MethodGet, "/api/clone", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["ok"] != true || body["action"] != "clone" || body["head"] != "abc123" || body["log"] != "done" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("failure", func(t *testing.T) {
		sy := &fakeSyncer{err: errors.New("clone failed: authentication required")}
		rec, body := do(t, New(WithSyncer(sy)).Handler(), http.MethodGet, "/api/clone", "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		if !strings.Contains(body["error"].(string), "authentication required") {
			t.Errorf("error = %v", body["error"])
		}
	})

	t.Run("no syncer", func(t *testing.T) {
		rec, _ := do(t, New().Handler(), http.MethodGet, "/api/clone", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestScanEndpoints(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"uc/train.py":      "import argparse\n\ndef main():\n    argparse.ArgumentParser()\n",
		"uc/model.py":      "class UCModel:\n    pass\n",
		"requirements.txt": "torch\n# comment\nnumpy\n",
		"pyproject.toml":   "[project.scripts]\nuc-train = \"uc.train:main\"\n",
	})
	h := New(WithRepoDir(dir)).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d (%v)", rec.Code, body)
	}
	scan := body["scan"].(map[string]any)
	modules := scan["modules"].(map[string]any)
	if len(modules) != 2 {
		t.Errorf("modules = %v", modules)
	}
	train := modules["uc/train.py"].(map[string]any)
	if train["uses_argparse"] != true {
		t.Errorf("uc/train.py = %v", train)
	}

	rec, body = do(t, h, http.MethodPost, "/api/module-map", `["uc/model.py", "../escape.py", "missing.py"]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("module-map status = %d", rec.Code)
	}
	m := body["map"].(map[string]any)
	if len(m) != 1 || m["uc/model.py"] == nil {
		t.Errorf("map = %v", m)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/module-map", `{"not":"a list"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("module-map with object body = %d, want 400", rec.Code)
	}

	rec, body = do(t, h, http.MethodGet, "/api/entrypoints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("entrypoints status = %d", rec.Code)
	}
	eps := body["entrypoints"].(map[string]any)
	targets, _ := eps["uc-train"].([]any)
	if len(targets) != 1 || targets[0] != "uc.train:main" {
		t.Errorf("entrypoints = %v", eps)
	}
}

func TestHelp(t *testing.T) {
	dir := writeRepo(t, map[string]string{"uc/__init__.py": ""})
	f := &recordingFactory{}
	h := New(
		WithRepoDir(dir),
		WithPython("python3"),
		WithRunner(runner.New(runner.WithCommandFactory(f.command))),
	).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/help", "")
	if rec.Code != http.StatusBadRequest || body["error"] != "Provide entry or module" {
		t.Fatalf("help without params = %d %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodGet, "/api/help?module=uc.train", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["returncode"] != float64(0) {
		t.Errorf("returncode = %v (stderr %v)", body["returncode"], body["stderr"])
	}
	want := []string{"python3", "-m", "uc.train", "--help"}
	if got := f.calls[0]; strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("argv = %v, want %v", got, want)
	}
}

func TestRun(t *testing.T) {
	dir := writeRepo(t, map[string]string{"__main__.py": "print('hi')\n"})
	configs := filepath.Join(t.TempDir(), "configs")
	f := &recordingFactory{}
	h := New(
		WithRepoDir(dir),
		WithConfigsDir(configs),
		WithPython("python3"),
		WithRunner(runner.New(runner.WithCommandFactory(f.command))),
	).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/run", `{
		"args": ["train", "--epochs", "2"],
		"config_files": {"train.yaml": {"epochs": 2}},
		"env_add": {"UC_MODE": "fast"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%v)", rec.Code, body)
	}
	if body["returncode"] != float64(0) {
		t.Fatalf("returncode = %v (stderr %v)", body["returncode"], body["stderr"])
	}
	stdout := body["stdout"].(string)
	if !strings.HasPrefix(stdout, dir) || !strings.HasSuffix(stdout, "|fast") {
		t.Errorf("stdout = %q, want PYTHONPATH starting with %s and UC_MODE", stdout, dir)
	}
	want := "python3 -m __main__ train --epochs 2"
	if got := strings.Join(f.calls[0], " "); got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(configs, "train.yaml")); err != nil {
		t.Errorf("config file not written: %v", err)
	}
	written, _ := body["config_files"].([]any)
	if len(written) != 1 {
		t.Errorf("config_files = %v", body["config_files"])
	}
}

func TestRun_Rejected(t *testing.T) {
	dir := writeRepo(t, map[string]string{"__main__.py": ""})
	f := &recordingFactory{}
	h := New(
		WithRepoDir(dir),
		WithConfigsDir(filepath.Join(t.TempDir(), "configs")),
		WithRunner(runner.New(runner.WithCommandFactory(f.command))),
	).Handler()

	tests := []struct {
		name   string
		target string
		body   string
		errSub string
	}{
		{"empty args", "/api/run", `{"args": []}`, "Args cannot be empty"},
		{"missing args", "/api/run", `{}`, "Args cannot be empty"},
		{"bad json", "/api/run", `{"args": `, "invalid JSON"},
		{"bad env key", "/api/run", `{"args": ["x"], "env_add": {"BAD KEY": "1"}}`, ""},
		{"bad config name", "/api/run", `{"args": ["x"], "config_files": {"../evil.json": {}}}`, "invalid config name"},
		{"bad timeout", "/api/run?timeout=soon", `{"args": ["x"]}`, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%v)", rec.Code, body)
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.errSub) {
				t.Errorf("error = %q, want substring %q", msg, tt.errSub)
			}
		})
	}
	if len(f.calls) != 0 {
		t.Errorf("rejected runs launched %d processes", len(f.calls))
	}
}

func TestDefaultConfigs(t *testing.T) {
	data := t.TempDir()
	configs := filepath.Join(data, "configs")
	h := New(WithDataDir(data), WithConfigsDir(configs)).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/default-config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cfg := body["config"].(map[string]any)
	dataset := cfg["dataset"].(map[string]any)
	if !strings.HasPrefix(dataset["train"].(string), filepath.ToSlash(data)) {
		t.Errorf("dataset.train = %v, want under %s", dataset["train"], data)
	}

	rec, body = do(t, h, http.MethodPost, "/api/ensure-default-configs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%v)", rec.Code, body)
	}
	path := body["path"].(string)
	if path != filepath.Join(configs, "config.json") {
		t.Errorf("path = %q", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var written map[string]any
	if err := json.Unmarshal(raw, &written); err != nil {
		t.Fatalf("config.json: %v", err)
	}
	if _, ok := written["training"]; !ok {
		t.Errorf("config.json = %v", written)
	}
}

func TestHookEndpoints(t *testing.T) {
	h := New().Handler()

	rec, body := do(t, h, http.MethodPost, "/api/uc/train", `{"training": {"epochs": 3}}`)
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("train = %d %v", rec.Code, body)
	}
	if res := body["result"].(map[string]any); res["status"] != "ok" {
		t.Errorf("train result = %v", res)
	}

	rec, body = do(t, h, http.MethodPost, "/api/uc/eval", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("eval = %d", rec.Code)
	}
	if res := body["result"].(map[string]any); res["accuracy"] != 0.93 {
		t.Errorf("eval result = %v", res)
	}

	rec, body = do(t, h, http.MethodPost, "/api/uc/infer", `{"cfg": {}, "input_data": {"text": "hello"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("infer = %d", rec.Code)
	}
	if res := body["result"].(map[string]any); res["prediction"] != "UC-123" {
		t.Errorf("infer result = %v", res)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/uc/train", `[1, 2]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("train with list body = %d, want 400", rec.Code)
	}

	rec, body = do(t, New(WithHooks(failingHooks{})).Handler(), http.MethodPost, "/api/uc/train", `{}`)
	if rec.Code != http.StatusInternalServerError || body["error"] != "no GPU available" {
		t.Errorf("failing train = %d %v", rec.Code, body)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- New().ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("ListenAndServe() = %v, want nil after cancel", err)
	}
}
