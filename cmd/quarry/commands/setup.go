package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrybuild/quarry/pkg/config"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/parse"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// runtime bundles everything a command needs to parse a tree.
type runtime struct {
	profile *config.Profile
	logger  *telemetry.Logger
	host    *engine.Host
	eval    *parse.Evaluator
	session *engine.Session
}

// loadProfile reads the profile, letting --verbose override the configured
// log level.
func loadProfile() (*config.Profile, error) {
	path := profilePath
	if path == "" {
		path = filepath.Join(repoRoot, config.DefaultFileName)
	}
	profile, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		profile.Logging.Level = "debug"
	}
	return profile, nil
}

// newRuntime wires host, evaluator and session from the profile.
func newRuntime() (*runtime, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}
	logger, err := telemetry.NewLogger(profile.Logging.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	host := engine.NewHost(repoRoot, engine.HostOptions{Logger: logger, Metrics: metrics})
	eval := parse.New(host, parse.Options{Logger: logger, Metrics: metrics})
	profile.Seed(eval)
	session := engine.NewSession(host, eval, engine.SessionOptions{
		MaxParallel:   profile.MaxParallel,
		BuildFileName: profile.BuildFileName,
		Logger:        logger,
		Metrics:       metrics,
	})

	return &runtime{
		profile: profile,
		logger:  logger,
		host:    host,
		eval:    eval,
		session: session,
	}, nil
}

// resolvePackages turns command arguments into package names, discovering
// the whole tree when none are given.
func (rt *runtime) resolvePackages(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	packages, err := engine.DiscoverPackages(repoRoot, rt.profile.BuildFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to discover packages: %w", err)
	}
	if len(packages) == 0 {
		return nil, fmt.Errorf("no %s files found under %s", rt.profile.BuildFileName, repoRoot)
	}
	return packages, nil
}

// printJSON writes a value as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
