// Package telemetry holds the OpenTelemetry instruments and span helpers
// used by the pipeline. Instruments are created from a MeterProvider so
// tests can collect them with an in-memory reader; the server uses the
// global provider.
package telemetry
