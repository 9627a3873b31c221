package config

import (
	"runtime"

	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Profile is the contents of a quarry.yaml file: everything the evaluator,
// scheduler and CLI need that is not in BUILD files themselves.
type Profile struct {
	// Version is reported to BUILD files as CONFIG.VERSION.
	Version string `yaml:"version"`

	// BuildFileName is the file parsed in each package directory.
	BuildFileName string `yaml:"build_file_name" validate:"required,excludesall=/"`

	// MaxParallel caps concurrent file evaluations; zero means the
	// scheduler default.
	MaxParallel int `yaml:"max_parallel" validate:"min=0,max=256"`

	// OS and Arch are reported to BUILD files; they default to the host.
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`

	// Defaults seed per-target fallbacks in the evaluator's config store.
	Defaults Defaults `yaml:"defaults"`

	// Policy configures target policy checking.
	Policy Policy `yaml:"policy"`

	// Store configures parse-result persistence.
	Store Store `yaml:"store"`

	// Logging configures the process logger.
	Logging Logging `yaml:"logging"`

	// Extra holds arbitrary settings passed through to CONFIG under their
	// uppercased keys.
	Extra map[string]string `yaml:"extra"`
}

// Defaults are values applied to targets that do not declare their own.
type Defaults struct {
	Visibility []string `yaml:"visibility" validate:"dive,required"`
	Licences   []string `yaml:"licences" validate:"dive,required"`
	TestOnly   bool     `yaml:"test_only"`
}

// Policy configures the Rego policy engine.
type Policy struct {
	// Enabled turns policy checking on for parse and check runs.
	Enabled bool `yaml:"enabled"`

	// Paths are extra .rego files or directories loaded on top of the
	// builtin policies.
	Paths []string `yaml:"paths"`
}

// Store configures the target store.
type Store struct {
	// Path is the SQLite database file; empty disables persistence.
	Path string `yaml:"path"`
}

// Logging configures log output.
type Logging struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// TelemetryConfig converts the logging profile to the telemetry package's
// config type.
func (l Logging) TelemetryConfig() telemetry.LoggingConfig {
	return telemetry.LoggingConfig{
		Level:  l.Level,
		Format: l.Format,
		Output: l.Output,
	}
}

// DefaultProfile returns the profile used when no quarry.yaml exists.
func DefaultProfile() *Profile {
	return &Profile{
		Version:       "dev",
		BuildFileName: "BUILD",
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Logging: Logging{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}
