package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ackflow/internal/spec"
)

// LoadPipelineSpec parses a pipeline YAML, validates schema_version and
// resolves binding config paths relative to the pipeline file.
func LoadPipelineSpec(path string) (spec.File, error) {
	var f spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("pipeline %s: %w", path, err)
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SupportedSchema
	}
	if f.SchemaVersion != SupportedSchema {
		return f, fmt.Errorf("pipeline schema_version %q not supported (want %q)", f.SchemaVersion, SupportedSchema)
	}
	if f.Source.Kind == "" {
		return f, fmt.Errorf("pipeline %s: source.kind is required", path)
	}
	if len(f.Sinks) == 0 {
		return f, fmt.Errorf("pipeline %s: at least one sink is required", path)
	}

	dir := filepath.Dir(path)
	f.Source.Config = resolve(dir, f.Source.Config)
	for i := range f.Sinks {
		f.Sinks[i].Config = resolve(dir, f.Sinks[i].Config)
	}
	return f, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
