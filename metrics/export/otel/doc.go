// Package otel binds Engine metrics to an OpenTelemetry meter.
//
// Counters map to Int64ObservableCounter instruments. Each latency
// histogram (login and second-factor verification) is published as a
// "<name>_bucket" gauge with one data point per "le" attribute, in the
// shape Prometheus scrapers expect, plus "_count" and "_sum" gauges. A
// single callback reads [goGuard.Engine.MetricsSnapshot] per collection.
//
// The caller owns the MeterProvider; [Exporter.Close] only unregisters
// the callback.
package otel
