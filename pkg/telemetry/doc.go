// Package telemetry provides observability instrumentation for Quarry.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging Quarry parse sessions.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "quarry"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithPackage("third_party/go").WithTarget("//third_party/go:protobuf")
//	logger.Info("Parsing package")
//	logger.WithError(err).Error("Parse failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into where a parse session spends its time:
//
//	ctx, span := tel.Tracer.StartSessionSpan(ctx, sessionID)
//	defer span.End()
//
//	ctx, pkgSpan := tel.Tracer.StartPackageSpan(ctx, "src/core", "src/core/BUILD")
//	defer pkgSpan.End()
//
//	if err != nil {
//	    telemetry.RecordError(pkgSpan, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track parser behavior and performance:
//
//	tel.Metrics.RecordSessionStarted()
//	tel.Metrics.RecordFileParsed("ok", duration)
//	tel.Metrics.RecordTargetCreated("test")
//	tel.Metrics.RecordError("syntax")
//
// Key metrics exposed:
//
//   - quarry_sessions_started_total
//   - quarry_sessions_completed_total{status}
//   - quarry_files_parsed_total{status}
//   - quarry_file_parse_duration_seconds{status}
//   - quarry_retry_rounds_total
//   - quarry_targets_created_total{kind}
//   - quarry_callback_runs_total{kind,status}
//   - quarry_errors_by_class_total{class}
//   - quarry_cached_files
//   - quarry_live_callbacks
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishSessionStarted(sessionID, root)
//	tel.Events.PublishFileDeferred(sessionID, pkg, file)
//	tel.Events.PublishTargetCreated(sessionID, pkg, "//src/core:lib")
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterBySessionID, FilterByPackage
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Session context
//	ctx = telemetry.WithSessionContext(ctx, sessionID, root)
//	defer telemetry.EndSessionContext(ctx, sessionID, status, packages, targets, err)
//
//	// Package context
//	ctx = telemetry.WithPackageContext(ctx, pkg, file)
//	defer telemetry.EndPackageContext(ctx, err)
//
//	// Policy check
//	err := telemetry.RecordPolicyCheck(ctx, "licence-allowlist", target, func() error {
//	    return engine.Check(ctx, target)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
