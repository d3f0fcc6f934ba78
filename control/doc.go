// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection for the talk server.
//
// Provides:
//   - YAML configuration with environment overrides and a reload store
//   - Prometheus collectors fed by the service and the completion port
//   - Named debug probes and the chi-routed admin HTTP server
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
