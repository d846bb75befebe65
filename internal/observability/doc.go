// Package observability provides structured logging and metrics for the
// authentication service.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - Prometheus counters and histograms for provider operations
//   - a registered-services gauge refreshed on registry reload
package observability
