// Package telemetry provides observability for the scaffold engine:
// structured logging (zerolog), Prometheus metrics, and OpenTelemetry
// tracing. All three are configured from one Config and degrade to
// no-ops when disabled, so call sites never branch on configuration.
package telemetry
