// Package metrics exports session and command telemetry to Prometheus.
//
//	col := metrics.New(metrics.WithRuntimeMetrics())
//	client, _ := nax.New(cfg, nax.WithObserver(col.ForDevice("kitchen")))
//	http.Handle("/metrics", col.Handler())
package metrics
