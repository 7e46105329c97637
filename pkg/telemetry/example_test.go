package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openrules/openrules/pkg/telemetry"
)

// Example shows the basic setup flow.
func Example() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "openrules"
	cfg.ServiceVersion = "1.0.0"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())
	defer func() { _ = tel.Shutdown(ctx) }()

	logger := telemetry.FromContext(ctx)
	logger.WithEvaluationID("eval-1").Info("evaluation complete")
}

// ExampleWithEvaluationContext instruments one evaluation end to end.
func ExampleWithEvaluationContext() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	ctx := tel.WithContext(context.Background())

	evaluationID := "eval-42"
	ctx = telemetry.WithEvaluationContext(ctx, evaluationID)

	// ... resolve fields and evaluate the rule ...
	var evalErr error
	outcome := "matched"

	telemetry.EndEvaluationContext(ctx, evaluationID, outcome, evalErr)
}

// ExampleRecordDataServiceOperation wraps a data-service call with a
// span and call metrics.
func ExampleRecordDataServiceOperation() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordDataServiceOperation(ctx, "https://api.example.com/graphql", "graphql", func() error {
		// ... perform the call ...
		return nil
	})
	if err != nil {
		fmt.Println("call failed:", err)
	}
}

// ExampleEventPublisher_Subscribe receives warning and error events.
func ExampleEventPublisher_Subscribe() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("event: %s %s\n", event.Type, event.Message)
	}, telemetry.FilterByLevel("warning"))

	_ = tel.Events.PublishFieldDefaulted("eval-1", "account.balance", "endpoint unreachable")
	_ = tel.Events.PublishEvaluationFailed("eval-1", "TIMEOUT_ERROR", errors.New("deadline exceeded").Error())

	time.Sleep(10 * time.Millisecond)
}
