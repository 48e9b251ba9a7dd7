// Package telemetry wraps OpenTelemetry SDK initialization, giving the
// gateway one place to configure its TracerProvider and MeterProvider.
// When telemetry is disabled, it falls back to a noop implementation that
// connects to nothing.
package telemetry
