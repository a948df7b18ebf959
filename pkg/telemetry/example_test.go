package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/deployconf/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// No listen address is configured, so this only validates the setup.
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	tel.Logger.Zerolog().Info().Str("solution_id", "sol_example").Msg("Application started")
}

// Example_recordGeneration demonstrates recording a generation run.
func Example_recordGeneration() {
	m, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		panic(err)
	}

	m.RecordGenerationStarted()
	for _, outcome := range []string{"invalid", "invalid", "valid"} {
		m.RecordGenerationAttempt(outcome)
	}
	m.RecordGenerationCompleted("succeeded", 1200*time.Millisecond)

	families, err := m.Registry().Gather()
	if err != nil {
		panic(err)
	}
	for _, f := range families {
		if f.GetName() == "deployconf_generation_attempts_total" {
			for _, metric := range f.GetMetric() {
				fmt.Printf("%s=%v\n", metric.GetLabel()[0].GetValue(), metric.GetCounter().GetValue())
			}
		}
	}
	// Output:
	// invalid=2
	// valid=1
}

// Example_nilSafe shows that components may run without telemetry.
func Example_nilSafe() {
	var m *telemetry.Metrics
	var tr *telemetry.Tracer

	m.RecordOperation("choose_solution", "ok", time.Millisecond)
	ctx, span := tr.StartSolutionSpan(context.Background(), "choose_solution", "sol_example")
	defer span.End()

	fmt.Println(telemetry.TraceID(ctx) == "")
	// Output: true
}
