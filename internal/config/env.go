package config

import (
	"fmt"
	"io"

	"github.com/kelseyhightower/envconfig"
)

// applyEnv overlays environment variables onto cfg. Variables that are not
// set leave the file/default value untouched.
func applyEnv(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	return nil
}

const usageFormat = `{{range .}}{{usage_key .}}	{{usage_type .}}
{{end}}`

// WriteEnvUsage prints every environment variable the config reads, one per line.
func WriteEnvUsage(w io.Writer) error {
	return envconfig.Usagef("", Default(), w, usageFormat)
}
