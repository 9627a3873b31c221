package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quarrybuild/quarry/pkg/bridge"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// defaultMaxParallel is the worker count used when none is configured.
const defaultMaxParallel = 8

// DefaultBuildFileName is the file name a package's targets are defined in.
const DefaultBuildFileName = "BUILD"

// Session drives a set of BUILD files through the evaluator to completion.
// Files are parsed in rounds: every pending file is evaluated on a worker
// goroutine, deferred files go back on the queue together with the packages
// they wait on, and the session stops when the queue drains or a round makes
// no progress.
type Session struct {
	// ID identifies the session in logs, traces and events.
	ID string

	host          *Host
	eval          bridge.Evaluator
	maxParallel   int
	buildFileName string
	logger        *telemetry.Logger
	metrics       *telemetry.Metrics
	events        *telemetry.EventPublisher
}

// SessionOptions configures a Session. Zero values select the defaults.
type SessionOptions struct {
	// MaxParallel is the number of files evaluated concurrently.
	MaxParallel int

	// BuildFileName overrides the BUILD file name.
	BuildFileName string

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
}

// NewSession creates a parse session over the given host and evaluator.
func NewSession(host *Host, eval bridge.Evaluator, opts SessionOptions) *Session {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	buildFileName := opts.BuildFileName
	if buildFileName == "" {
		buildFileName = DefaultBuildFileName
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	id := uuid.New().String()
	return &Session{
		ID:            id,
		host:          host,
		eval:          eval,
		maxParallel:   maxParallel,
		buildFileName: buildFileName,
		logger:        logger.NewComponentLogger("scheduler").WithSessionID(id),
		metrics:       opts.Metrics,
		events:        opts.Events,
	}
}

// Report summarises a parse session.
type Report struct {
	// SessionID identifies the session the report belongs to.
	SessionID string `json:"session_id"`

	// Packages is the number of packages parsed to completion.
	Packages int `json:"packages"`

	// Targets is the number of targets in the graph afterwards.
	Targets int `json:"targets"`

	// Rounds is the number of parse rounds the session ran.
	Rounds int `json:"rounds"`

	// Duration is the total session time.
	Duration time.Duration `json:"duration"`

	// Failures maps package names to their parse errors.
	Failures map[string]error `json:"-"`
}

// OK reports whether every file parsed without error.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// parseOutcome is one file's result within a round.
type parseOutcome struct {
	pkg      string
	record   *Package
	result   bridge.Result
	duration time.Duration
}

// Parse evaluates the named packages and everything they subinclude. It
// returns a report even on failure; the error is non-nil only when the
// session as a whole could not run (context cancelled or a deferral cycle).
func (s *Session) Parse(ctx context.Context, packages []string) (*Report, error) {
	start := time.Now()
	report := &Report{SessionID: s.ID, Failures: make(map[string]error)}

	if s.metrics != nil {
		s.metrics.RecordSessionStarted()
	}
	if s.events != nil {
		_ = s.events.PublishSessionStarted(s.ID, s.host.root)
	}

	pending := dedupe(packages)
	queued := make(map[string]bool, len(pending))
	for _, pkg := range pending {
		queued[pkg] = true
	}
	deferrals := newDeferGraph()

	var sessionErr error
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			sessionErr = err
			break
		}
		report.Rounds++
		if report.Rounds > 1 && s.metrics != nil {
			s.metrics.RecordRetryRound()
		}
		if s.metrics != nil {
			s.metrics.SetPendingFiles(float64(len(pending)))
		}

		var next []string
		progress := false
		for _, out := range s.parseRound(ctx, pending) {
			switch out.result.Status {
			case bridge.StatusOK:
				progress = true
				if err := s.finishPackage(ctx, out.record); err != nil {
					report.Failures[out.pkg] = err
					break
				}
				report.Packages++
				if s.events != nil {
					_ = s.events.PublishFileParsed(s.ID, out.pkg, out.record.Filename, out.duration)
				}
			case bridge.StatusDeferred:
				for _, label := range s.host.TakeDeferrals(out.pkg) {
					deferrals.addEdge(out.pkg, label.Package)
					if !queued[label.Package] {
						queued[label.Package] = true
						next = append(next, label.Package)
						progress = true
					}
				}
				next = append(next, out.pkg)
				s.releasePartial(out.record)
				if s.events != nil {
					_ = s.events.PublishFileDeferred(s.ID, out.pkg, out.record.Filename)
				}
			case bridge.StatusError:
				progress = true
				report.Failures[out.pkg] = out.result.Err
				if s.events != nil {
					_ = s.events.PublishFileFailed(s.ID, out.pkg, out.record.Filename, out.result.Err.Error())
				}
			}
		}

		if !progress && len(next) > 0 {
			if cycle := deferrals.findCycle(); cycle != nil {
				sessionErr = &CycleError{Cycle: cycle}
				for _, pkg := range dedupe(next) {
					report.Failures[pkg] = sessionErr
				}
			} else {
				for _, pkg := range dedupe(next) {
					report.Failures[pkg] = fmt.Errorf("parse of //%s deferred on packages that failed to parse: //%s",
						pkg, strings.Join(deferrals.waitingOn(pkg), ", //"))
				}
			}
			break
		}
		pending = dedupe(next)
	}

	report.Targets = s.host.graph.Len()
	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.SetPendingFiles(0)
	}
	s.complete(report, sessionErr)
	return report, sessionErr
}

// complete records the session-level metrics and events.
func (s *Session) complete(report *Report, sessionErr error) {
	status := "ok"
	if sessionErr != nil || !report.OK() {
		status = "failed"
	}
	if s.metrics != nil {
		s.metrics.RecordSessionCompleted(status, report.Duration)
	}
	if s.events != nil {
		if sessionErr != nil {
			_ = s.events.PublishSessionFailed(s.ID, sessionErr.Error())
		} else {
			_ = s.events.PublishSessionCompleted(s.ID, report.Packages, report.Targets, report.Duration)
		}
	}
	s.logger.WithFields(map[string]interface{}{
		"session_id": s.ID,
		"packages":   report.Packages,
		"targets":    report.Targets,
		"rounds":     report.Rounds,
		"failures":   len(report.Failures),
	}).Info("Parse session complete")
}

// parseRound evaluates every pending file once across the worker pool.
func (s *Session) parseRound(ctx context.Context, pending []string) []parseOutcome {
	jobs := make(chan string, len(pending))
	for _, pkg := range pending {
		jobs <- pkg
	}
	close(jobs)

	results := make(chan parseOutcome, len(pending))
	workers := s.maxParallel
	if len(pending) < workers {
		workers = len(pending)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pkg := range jobs {
				results <- s.parseOne(ctx, pkg)
			}
		}()
	}
	wg.Wait()
	close(results)

	outcomes := make([]parseOutcome, 0, len(pending))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// parseOne evaluates a single package's BUILD file into a fresh package
// record. The record only enters the graph if the parse completes.
func (s *Session) parseOne(ctx context.Context, pkgName string) parseOutcome {
	record := NewPackage(pkgName, filepath.Join(s.host.root, pkgName, s.buildFileName))
	start := time.Now()
	result := s.eval.ParseFile(ctx, record.Filename, pkgName, record)
	duration := time.Since(start)
	s.logger.WithPackage(pkgName).WithField("status", result.Status.String()).Debug("Parsed file")
	return parseOutcome{pkg: pkgName, record: record, result: result, duration: duration}
}

// finishPackage commits a parsed package to the graph and runs its targets'
// build callbacks. The engine does not build, so post-build callbacks
// receive the target's declared outputs as the captured output lines.
func (s *Session) finishPackage(ctx context.Context, record *Package) error {
	if err := s.host.graph.Commit(record); err != nil {
		return err
	}
	for _, t := range record.TargetsInOrder() {
		if t.PreBuild != "" {
			t.SetState(StateBuilding)
			if err := s.eval.RunPreBuildCallback(ctx, t.PreBuild, t.Label.Name); err != nil {
				if s.events != nil {
					_ = s.events.PublishCallbackFailed(t.Label.String(), "pre-build", err.Error())
				}
				t.SetState(StateReady)
				return fmt.Errorf("pre-build callback for %s failed: %w", t.Label, err)
			}
		}
		t.SetState(StateReady)
		if t.PostBuild != "" {
			if err := s.eval.RunPostBuildCallback(ctx, t.PostBuild, t.Label.Name, t.DeclaredOutputs()); err != nil {
				if s.events != nil {
					_ = s.events.PublishCallbackFailed(t.Label.String(), "post-build", err.Error())
				}
				return fmt.Errorf("post-build callback for %s failed: %w", t.Label, err)
			}
		}
		s.eval.ReleaseCallbacks(t.Label.Key())
	}
	return nil
}

// releasePartial drops the callbacks a deferred attempt registered before it
// aborted; the retry registers them afresh.
func (s *Session) releasePartial(record *Package) {
	for _, t := range record.TargetsInOrder() {
		s.eval.ReleaseCallbacks(t.Label.Key())
	}
}

// dedupe returns the unique entries of a slice, preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
