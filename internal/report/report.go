// Package report writes run summaries as YAML next to the result logs.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// WriteYAML encodes v and replaces path atomically. A reader never sees a
// partially written summary.
func WriteYAML(path string, v any) (err error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".summary-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp summary: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close summary: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename summary: %w", err)
	}
	return nil
}

// ReadYAML decodes the summary at path into v.
func ReadYAML(path string, v any) error {
	// #nosec G304 -- the summary path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read summary: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	return nil
}
