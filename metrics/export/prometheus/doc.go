// Package prometheus exposes authcore counters to a Prometheus registry.
//
// [NewCollector] adapts an engine's [authcore.MetricsSnapshot] into const
// metrics at scrape time. Counter names are authcore_*_total; the login
// latency histogram is authcore_login_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in the global Prometheus registry. Callers pass a
//     [prometheus.Registerer].
//   - Mutate engine state.
package prometheus
