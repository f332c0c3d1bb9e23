package rulebook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a rulebook from a YAML file, or merges every .yaml/.yml file
// in a directory in name order.
func Load(path string, logger *slog.Logger) (*Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rulebook: %w", err)
	}
	if !info.IsDir() {
		f, err := readFile(path)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded rulebook", "path", path, "rules", len(f.Rules), "triggers", len(f.Triggers), "jobs", len(f.Jobs))
		return New(f)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read rulebook dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var merged File
	merged.Triggers = make(map[string]Action)
	for _, name := range names {
		f, err := readFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		if f.IgnoreBots != nil {
			merged.IgnoreBots = f.IgnoreBots
		}
		merged.Rules = append(merged.Rules, f.Rules...)
		merged.Jobs = append(merged.Jobs, f.Jobs...)
		for k, v := range f.Triggers {
			if _, dup := merged.Triggers[k]; dup {
				logger.Warn("trigger handler redefined", "trigger", k, "file", name)
			}
			merged.Triggers[k] = v
		}
		logger.Info("loaded rulebook file", "path", filepath.Join(path, name))
	}
	return New(merged)
}

func readFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read rulebook: %w", err)
	}
	return Parse(data)
}

// Parse decodes a rulebook document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse rulebook: %w", err)
	}
	return f, nil
}

// Example is the rulebook written by `repp init`.
const Example = `# repp rulebook
ignore_bots: true

rules:
  - name: greet
    match: '(?i)^(hi|hello)\b'
    reply: "hello {{.Sender}}"
  - name: deploy
    keywords: [deploy]
    reply: "starting deploy for {{.Sender}}"
    trigger:
      names: [build, notify]
      payload:
        requested_by: chat

triggers:
  build:
    reply: "build queued (depth {{.Depth}})"
  notify:
    reply: "{{range .ReplyTo}}@{{.}} {{end}}deploy requested"

jobs:
  - name: heartbeat
    every: 1h
    channel: general
    reply: "still here at {{.Time.Format \"15:04\"}}"
`
