// Package metrics exposes Prometheus counters, gauges and histograms for the
// receiver, the broadcaster, the server lifecycle and the HTTP admin API.
package metrics
