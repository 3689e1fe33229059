package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CARDINALITY BEST PRACTICES:
//
// High cardinality attributes (unique values per request) should NEVER be added to spans
// that contribute to metrics, as they create unbounded metric series and can cause:
// - Memory exhaustion
// - Query performance degradation
// - Storage cost explosion
//
// AVOID these as span attributes:
// - User IDs, session IDs, request IDs
// - File names, file paths, URLs with unique parameters
// - Timestamps, random values, UUIDs
// - Error messages with dynamic content
// - Pack ids, sample names, device slot ids
//
// SAFE attributes (bounded cardinality):
// - Operation types (limited set: "probe", "download", "upload")
// - Status values (limited set: "success", "error", "timeout")
// - Driver types (limited set: "mx10", "sim")
// - Component names (limited set: "database", "device")
//
// For debugging, high-cardinality data should be:
// - Added to span status/events (not attributes)
// - Logged with correlation IDs
// - Stored in trace context for propagation

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(
			attribute.Bool("error", true),
			// Note: error.message is intentionally NOT added as attribute to prevent
			// high cardinality from unique error messages. Full error is in span status.
		)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentDeviceOperation instruments device transport operations.
func (t *Telemetry) InstrumentDeviceOperation(ctx context.Context, driver, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "device_"+operation, "device", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "device_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("device.driver", driver),
			attribute.String("device.operation", operation),
		)

		return fn(ctx)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDeviceOperation(driver, operation, status)

	return err
}

// InstrumentPackFetch instruments sample pack fetches from the remote store.
func (t *Telemetry) InstrumentPackFetch(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "pack_fetch", "pack_store", func(ctx context.Context) error {
		ctx, span := t.tracer.Start(ctx, "pack_fetch")
		defer span.End()

		// Note: the pack id is intentionally NOT added as an attribute
		// to prevent high cardinality issues. It is available in logs.
		span.SetAttributes(
			attribute.String("fetch.type", "pack"),
		)

		return fn(ctx)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordPackFetch(status)

	return err
}

// InstrumentTransfer instruments transfer operations.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveTransfers()
	defer t.DecrementActiveTransfers()

	err := t.InstrumentOperation(ctx, "transfer_"+operation, "transfer", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordTransfer(operation, status, duration)

	return err
}
