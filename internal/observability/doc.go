// Package observability provides structured logging, metrics, and tracing
// for ClusterTalk.
//
// This package implements:
//   - zap loggers configured from LOG_LEVEL / LOG_FORMAT with an optional file sink
//   - Prometheus collectors for HTTP traffic and pipeline stages
//   - OpenTelemetry tracing exported over OTLP/gRPC
//
// Every pipeline stage is instrumented through these primitives.
package observability
