// Package telemetry provides observability instrumentation for deployconf.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value that
// the CLI builds at startup and hands to the orchestrator.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    return err
//	}
//
// # Structured Logging
//
// Libraries take a zerolog.Logger; Logger.Zerolog returns the configured one:
//
//	logger := tel.Logger.Zerolog().With().Str("component", "store").Logger()
//	logger.Info().Str("solution_id", id).Msg("Solution updated")
//
// # Tracing
//
// Every orchestrator operation runs in a span named "orchestrator.<operation>"
// carrying the solution.id attribute; generation attempts get child spans.
// A nil *Tracer is valid and produces no-op spans.
//
// # Metrics
//
// Metrics live in a private registry. The Record methods are nil-safe, so
// components can be built without metrics in tests:
//
//	deployconf_operations_total{operation,status}
//	deployconf_operation_duration_seconds{operation}
//	deployconf_solutions_registered_total
//	deployconf_answer_submissions_total{stage,result}
//	deployconf_stage_transitions_total{from,to}
//	deployconf_generation_attempts_total{outcome}
//	deployconf_generation_runs_total{result}
//	deployconf_generation_run_duration_seconds{result}
//	deployconf_active_generation_runs
//	deployconf_deploys_total{result}
//	deployconf_deploy_duration_seconds{result}
//	deployconf_errors_by_class_total{class}
//	deployconf_errors_by_code_total{code}
package telemetry
