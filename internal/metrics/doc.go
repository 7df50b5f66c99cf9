// Package metrics exposes daemon observability hooks.
//
// The engine reports through the Recorder interface. NoopRecorder is the
// default; PrometheusRecorder registers the norc_* series on a registry that
// HTTPHandler serves on the configured metrics bind address.
package metrics
