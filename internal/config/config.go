// Package config loads engine configuration for a managed root.
//
// Configuration comes from .januskey/config.yaml, validated against an
// embedded CUE schema, with a small closed set of environment overrides
// applied on top. Unknown environment variables are ignored.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// FileName is the config file inside the metadata subtree.
const FileName = "config.yaml"

// Environment variables the engine reads. This list is closed; anything
// else in the environment is ignored.
const (
	EnvRoot      = "JANUSKEY_ROOT"
	EnvMinPasses = "JANUSKEY_MIN_PASSES"
	EnvVerbosity = "JANUSKEY_VERBOSITY"
)

// Config is the validated engine configuration.
type Config struct {
	MinPasses          int    `json:"min_passes" yaml:"min_passes"`
	Verbosity          string `json:"verbosity" yaml:"verbosity"`
	Delta              bool   `json:"delta" yaml:"delta"`
	MaxHistory         int    `json:"max_history" yaml:"max_history"`
	StoreCapacityBytes int64  `json:"store_capacity_bytes" yaml:"store_capacity_bytes"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		MinPasses: model.MinOverwritePasses,
		Verbosity: "info",
	}
}

// Load reads, validates, and resolves the configuration for a managed
// root: file values (when the file exists), then environment overrides.
func Load(root string) (Config, error) {
	cfg := Default()

	path := filepath.Join(root, fsmodel.MetaDir, FileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		cfg, err = parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Root resolves the managed root: the explicit flag value, the JANUSKEY_ROOT
// override, or the current working directory, in that order.
func Root(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return env, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve managed root: %w", err)
	}
	return wd, nil
}

// parse decodes YAML and unifies the result against the CUE schema, so
// invalid values (out-of-range passes, unknown verbosity) are rejected
// with a schema-level error rather than surfacing later.
func parse(raw []byte) (Config, error) {
	var loose map[string]any
	if err := yaml.Unmarshal(raw, &loose); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if loose == nil {
		loose = map[string]any{}
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}

	unified := schema.Unify(cctx.Encode(loose))
	if err := unified.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return cfg, nil
}

// applyEnv applies the closed set of environment overrides.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMinPasses); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMinPasses, err)
		}
		if n < model.MinOverwritePasses {
			return fmt.Errorf("%s must be >= %d, got %d", EnvMinPasses, model.MinOverwritePasses, n)
		}
		cfg.MinPasses = n
	}
	if v := os.Getenv(EnvVerbosity); v != "" {
		switch v {
		case "debug", "info", "warn", "error":
			cfg.Verbosity = v
		default:
			return fmt.Errorf("%s: unknown level %q", EnvVerbosity, v)
		}
	}
	return nil
}
