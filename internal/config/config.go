// Package config loads koanf-backed configuration files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const SupportedSchema = "v1"

// EnvDelim separates nesting levels in environment variable names,
// e.g. ACKFLOW_KAFKA__CHECKPOINT__COMMIT_INTERVAL.
const EnvDelim = "__"

// Load merges the YAML file at path (if it exists) with environment
// variables starting with envPrefix and unmarshals the result into out.
// Environment variables win over the file.
func Load(path, envPrefix string, out any) error {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return fmt.Errorf("config: schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if envPrefix != "" {
		cb := func(s string) string {
			return strings.ToLower(strings.TrimPrefix(s, envPrefix))
		}
		if err := k.Load(env.Provider(envPrefix, EnvDelim, cb), nil); err != nil {
			return fmt.Errorf("config: load env %s*: %w", envPrefix, err)
		}
	}
	return k.Unmarshal("", out)
}

// EnvPrefix returns the environment prefix of a binding, e.g.
// ACKFLOW_SERVICEBUS__.
func EnvPrefix(binding string) string {
	return "ACKFLOW_" + strings.ToUpper(binding) + EnvDelim
}
