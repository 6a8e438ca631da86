package params

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a parameter issue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding. Path names the environment variable the
// finding is about.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors filters issues down to error severity.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// ConfigurationError reports parameters that cannot be used. Either Issues
// lists the findings or Err holds a loading failure.
type ConfigurationError struct {
	Issues []Issue
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "configuration: " + e.Err.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, iss.Path+": "+iss.Message)
	}
	return "configuration: " + strings.Join(parts, "; ")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var dataSourceKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}

// Validate checks settings that apply in every mode.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, key, msg string) {
		issues = append(issues, Issue{Severity: sev, Path: EnvName(key), Message: msg})
	}

	if !dataSourceKinds[cfg.DataSource.Kind] {
		add(SeverityError, KeyDBKind, fmt.Sprintf("unsupported kind %q (want sqlite|postgres|mssql)", cfg.DataSource.Kind))
	}
	if cfg.DataSource.Location == "" {
		add(SeverityError, KeyDBPath, "must not be empty")
	}
	if cfg.OutputPath == "" {
		add(SeverityError, KeyOutputPath, "must not be empty")
	}
	if cfg.SampleLimit < 0 {
		add(SeverityError, KeySampleLimit, "must not be negative")
	}
	if cfg.QueryEngineTimeout < 0 {
		add(SeverityError, KeyQueryEngineTimeout, "must not be negative")
	}
	if cfg.JobName == "" {
		add(SeverityWarning, KeyJobName, "empty; metrics will be tagged with the default job")
	}
	return issues
}

// ValidateProduction checks what a production run needs before the query
// engine is called. It returns nothing in development mode.
func ValidateProduction(cfg Config) []Issue {
	if cfg.Mode != ModeProduction {
		return nil
	}

	var issues []Issue
	required := []struct {
		key, val string
	}{
		{KeyQuery, strings.TrimSpace(cfg.Query)},
		{KeyQuerySignature, cfg.QuerySignature},
		{KeyComputeJobID, cfg.ComputeJobID},
		{KeyDataRefinerID, cfg.DataRefinerID},
		{KeyQueryEngineURL, cfg.QueryEngineURL},
	}
	for _, r := range required {
		if r.val == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     EnvName(r.key),
				Message:  "required in production mode",
			})
		}
	}

	if cfg.QueryEngineURL != "" {
		u, err := url.Parse(cfg.QueryEngineURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     EnvName(KeyQueryEngineURL),
				Message:  fmt.Sprintf("not an http(s) URL: %q", cfg.QueryEngineURL),
			})
		}
	}

	if cfg.DataSource.Kind != "" && cfg.DataSource.Kind != "sqlite" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     EnvName(KeyDBKind),
			Message:  "query engine response body is only stored for sqlite; " + cfg.DataSource.Kind + " must be populated by the engine",
		})
	}
	return issues
}
