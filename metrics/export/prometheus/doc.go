// Package prometheus exposes Engine metrics as a prometheus.Collector.
//
// Counters are published as goguard_*_total and login latency as the
// goguard_login_latency_seconds histogram. Register the [Exporter] with
// your own registry, or mount [Exporter.Handler], which uses a private one.
package prometheus
