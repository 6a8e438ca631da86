package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"queryworker/internal/extract"
)

// LoadOptions adds optional layers on top of defaults and the environment.
type LoadOptions struct {
	// File is a YAML params file. Empty means none.
	File string
	// Overrides win over every other layer. Keys use the lowercase names.
	Overrides map[string]any
}

// Load resolves and validates the parameters. Warnings are returned
// alongside a valid Config; any error-severity issue yields a
// *ConfigurationError instead.
func Load(opts LoadOptions) (Config, []Issue, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults, "."), nil); err != nil {
		return Config{}, nil, &ConfigurationError{Err: fmt.Errorf("load defaults: %w", err)}
	}
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return Config{}, nil, &ConfigurationError{Err: fmt.Errorf("read params file %s: %w", opts.File, err)}
		}
	}
	// Empty variables count as unset so they do not mask lower layers.
	if err := k.Load(env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		key := strings.ToLower(name)
		if !knownKeys[key] || value == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return Config{}, nil, &ConfigurationError{Err: fmt.Errorf("load environment: %w", err)}
	}
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return Config{}, nil, &ConfigurationError{Err: fmt.Errorf("load overrides: %w", err)}
		}
	}

	cfg, issues := decode(k)
	issues = append(issues, Validate(cfg)...)
	issues = append(issues, ValidateProduction(cfg)...)

	if errs := Errors(issues); len(errs) > 0 {
		return Config{}, issues, &ConfigurationError{Issues: errs}
	}
	return cfg, issues, nil
}

func decode(k *koanf.Koanf) (Config, []Issue) {
	var issues []Issue
	bad := func(key, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Path: EnvName(key), Message: msg})
	}
	str := func(key string) string { return strings.TrimSpace(k.String(key)) }

	cfg := Config{
		DataSource: DataSource{
			Kind:     strings.ToLower(str(KeyDBKind)),
			Location: str(KeyDBPath),
		},
		Query:          k.String(KeyQuery),
		QuerySignature: str(KeyQuerySignature),
		ComputeJobID:   str(KeyComputeJobID),
		DataRefinerID:  str(KeyDataRefinerID),
		QueryEngineURL: strings.TrimRight(str(KeyQueryEngineURL), "/"),
		OutputPath:     str(KeyOutputPath),
		JobName:        str(KeyJobName),
	}

	dev, err := parseBool(str(KeyDevMode))
	if err != nil {
		bad(KeyDevMode, err.Error())
	}
	if dev {
		cfg.Mode = ModeDevelopment
	}

	qp, err := parseQueryParams(k.Get(KeyQueryParams))
	if err != nil {
		bad(KeyQueryParams, err.Error())
	}
	cfg.QueryParams = qp

	if s := str(KeyQueryEngineTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			bad(KeyQueryEngineTimeout, fmt.Sprintf("invalid duration %q", s))
		}
		cfg.QueryEngineTimeout = d
	}

	if s := str(KeySampleLimit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			bad(KeySampleLimit, fmt.Sprintf("invalid integer %q", s))
		}
		cfg.SampleLimit = n
	}

	kind, err := extract.ParseKind(str(KeyExtractStrategy))
	if err != nil {
		bad(KeyExtractStrategy, err.Error())
	}
	cfg.Strategy = kind

	return cfg, issues
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on", "t", "y":
		return true, nil
	case "", "0", "false", "no", "off", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// parseQueryParams accepts a JSON object string (environment) or an already
// decoded mapping (params file).
func parseQueryParams(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return map[string]any{}, fmt.Errorf("must be a JSON object: %v", err)
		}
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	default:
		return map[string]any{}, fmt.Errorf("must be a JSON object, got %T", v)
	}
}
