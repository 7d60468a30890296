package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/pyshim/internal/hooks"
	"github.com/andywolf/pyshim/internal/repo"
	"github.com/andywolf/pyshim/internal/runner"
	"github.com/andywolf/pyshim/internal/scanner"
	"github.com/andywolf/pyshim/internal/version"
)

const errRepoMissing = "Repository not found. Clone via /api/clone first."

// requireRepo writes a 400 and returns false when the working copy is absent.
func (s *Server) requireRepo(w http.ResponseWriter) bool {
	if !repo.Present(s.repoDir) {
		respondError(w, http.StatusBadRequest, errRepoMissing)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version.Get()})
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, repo.ErrNoURL.Error())
		return
	}
	res, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.loggerFor(r).Errorf("sync failed: %v", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"action": res.Action,
		"path":   res.Path,
		"head":   res.Head,
		"log":    res.Log,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	res, err := scanner.New(s.repoDir, s.scanOptions...).Scan()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrRootNotFound) || errors.Is(err, scanner.ErrNotDirectory) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}
	s.loggerFor(r).Infof("scanned %d modules", len(res.Modules))
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "scan": res})
}

func (s *Server) handleModuleMap(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	var paths []string
	if err := decodeBody(w, r, &paths); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON list of relative paths")
		return
	}
	m := scanner.New(s.repoDir, s.scanOptions...).MapModules(paths)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "map": m})
}

func (s *Server) handleEntrypoints(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	eps := scanner.New(s.repoDir).Entrypoints()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "entrypoints": eps})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	entry := r.URL.Query().Get("entry")
	module := r.URL.Query().Get("module")
	if strings.TrimSpace(entry) == "" && strings.TrimSpace(module) == "" {
		respondError(w, http.StatusBadRequest, "Provide entry or module")
		return
	}
	res := s.helper.Help(r.Context(), s.repoDir, module, entry, s.python)
	respondJSON(w, http.StatusOK, resultBody(res))
}

// runRequest is the body of POST /api/run. Timeout is in seconds.
type runRequest struct {
	Args        []string          `json:"args"`
	ConfigFiles map[string]any    `json:"config_files"`
	EnvAdd      map[string]string `json:"env_add"`
	Timeout     int               `json:"timeout"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if q := r.URL.Query().Get("timeout"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			respondError(w, http.StatusBadRequest, "timeout must be an integer number of seconds")
			return
		}
		req.Timeout = n
	}
	if len(req.Args) == 0 {
		respondError(w, http.StatusBadRequest, "Args cannot be empty")
		return
	}
	if err := s.validator.ValidateArgs(req.Args); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for key := range req.EnvAdd {
		if err := s.validator.ValidateEnvKey(key); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var written []string
	if len(req.ConfigFiles) > 0 {
		var err error
		written, err = runner.WriteConfigs(s.configsDir, req.ConfigFiles)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	timeout := s.runTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	cmd := runner.MainCommand(s.python, s.repoDir, req.Args, req.EnvAdd, timeout)
	s.loggerFor(r).Infof("running %s", strings.Join(cmd.Args, " "))
	res := s.runner.Run(r.Context(), cmd)
	if !res.OK() {
		s.loggerFor(r).Warningf("run exited with %d", res.ExitCode)
	}

	body := resultBody(res)
	if written != nil {
		body["config_files"] = written
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleDefaultConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "config": hooks.DefaultConfig(s.dataDir)})
}

func (s *Server) handleEnsureDefaultConfigs(w http.ResponseWriter, r *http.Request) {
	written, err := runner.WriteConfigs(s.configsDir, map[string]any{
		"config.json": map[string]any(hooks.DefaultConfig(s.dataDir)),
	})
	if err != nil {
		s.loggerFor(r).Errorf("failed to write default config: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := written[0]
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var cfg hooks.Config
	if err := decodeBody(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON config object")
		return
	}
	res, err := s.hooks.Train(r.Context(), cfg)
	s.respondHook(w, r, "train", res, err)
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	var cfg hooks.Config
	if err := decodeBody(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON config object")
		return
	}
	res, err := s.hooks.Eval(r.Context(), cfg)
	s.respondHook(w, r, "eval", res, err)
}

type inferRequest struct {
	Cfg       hooks.Config   `json:"cfg"`
	InputData map[string]any `json:"input_data"`
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, `body must be {"cfg": {...}, "input_data": {...}}`)
		return
	}
	res, err := s.hooks.Infer(r.Context(), req.Cfg, req.InputData)
	s.respondHook(w, r, "infer", res, err)
}

func (s *Server) respondHook(w http.ResponseWriter, r *http.Request, name string, res map[string]any, err error) {
	if err != nil {
		s.loggerFor(r).Errorf("%s hook failed: %v", name, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func resultBody(res runner.Result) map[string]any {
	return map[string]any{
		"ok":         true,
		"returncode": res.ExitCode,
		"stdout":     res.Stdout,
		"stderr":     res.Stderr,
	}
}
