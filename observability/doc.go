// Package observability provides ready-made extensions that record
// engine lifecycle metrics via OpenTelemetry. Register them with the
// engine's extension registry; they opt in to the hooks they need.
package observability
