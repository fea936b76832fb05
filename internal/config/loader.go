package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// LoadFile reads an HCL config file. A missing file is not an error and
// yields an empty Config, so every setting takes its default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadHCL(data, path)
}

// LoadHCL decodes config from HCL bytes. Expressions may reference the
// process environment as env.NAME.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: HCL parse error: %s", ErrInvalid, diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, EvalContext(os.Environ()), &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, diags.Error())
	}

	switch cfg.SchemaVersion {
	case "", "1", CurrentSchemaVersion:
	default:
		return nil, fmt.Errorf("%w: unsupported config schema version %s (supported: %s)",
			ErrInvalid, cfg.SchemaVersion, CurrentSchemaVersion)
	}

	return &cfg, nil
}

// EvalContext exposes environ (KEY=VALUE pairs) as the env object.
func EvalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || !hclIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}

	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

func hclIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
