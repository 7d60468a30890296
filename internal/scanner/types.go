// Package scanner statically inspects a Python repository: classes, functions,
// imports and argparse usage per source file, declared entry points,
// dependency lists, config files, readme and license excerpts.
// Nothing in the scanned tree is ever imported or executed.
package scanner

import (
	"encoding/json"
	"fmt"
)

// ModuleInfo describes one Python source file. When Error is set the other
// fields are empty and the record serializes as {"error": "..."}.
type ModuleInfo struct {
	Classes      []string `json:"classes"`
	Functions    []string `json:"functions"`
	Imports      []string `json:"imports"`
	UsesArgparse bool     `json:"uses_argparse"`
	Error        string   `json:"error,omitempty"`
}

// Failed reports whether the record is the error variant.
func (m ModuleInfo) Failed() bool {
	return m.Error != ""
}

// MarshalJSON keeps the two variants mutually exclusive on the wire.
func (m ModuleInfo) MarshalJSON() ([]byte, error) {
	if m.Failed() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{m.Error})
	}
	type plain ModuleInfo
	p := plain(m)
	if p.Classes == nil {
		p.Classes = []string{}
	}
	if p.Functions == nil {
		p.Functions = []string{}
	}
	if p.Imports == nil {
		p.Imports = []string{}
	}
	return json.Marshal(p)
}

func errorRecord(err error) ModuleInfo {
	return ModuleInfo{Error: err.Error()}
}

// Excerpt is a bounded text excerpt of a readme or license file.
type Excerpt struct {
	File string `json:"file"`
	Text string `json:"text"`
}

// ScanResult is the complete output of ScanRepository.
type ScanResult struct {
	RepoRoot     string                `json:"repo_root"`
	Modules      map[string]ModuleInfo `json:"modules"`
	Entrypoints  map[string][]string   `json:"entrypoints"`
	Requirements map[string][]string   `json:"requirements"`
	Configs      map[string]any        `json:"configs"`
	Readme       *Excerpt              `json:"readme"`
	License      *Excerpt              `json:"license"`
}

// ParseError is returned when a source file is not valid Python or the
// syntax tree walk fails.
type ParseError struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}
