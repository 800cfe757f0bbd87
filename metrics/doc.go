// Package metrics defines the Observer hook the engine reports to, with a
// no-op implementation, an in-memory collector and a Prometheus exporter.
//
// Example Prometheus integration:
//
//	obs := metrics.NewPrometheusObserver(prometheus.DefaultRegisterer)
//	db, err := hlkvds.Open(ctx, vol, hlkvds.WithMetrics(obs))
//	http.Handle("/metrics", promhttp.Handler())
package metrics
