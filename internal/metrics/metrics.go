// Package metrics defines package-level Prometheus metric variables for the
// homevalue-gate service. Call Register() once at startup to expose them on
// the default registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsAdmitted counts lookup requests that passed the admission gate.
	RequestsAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homevalue_gate_requests_admitted_total",
		Help: "Lookup requests that passed the admission gate.",
	})

	// RequestsDenied counts denied requests, labelled by denial reason.
	RequestsDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homevalue_gate_requests_denied_total",
		Help: "Lookup requests denied by the admission gate, by reason.",
	}, []string{"reason"})

	// LookupsCompleted counts valuation lookups that returned a property record.
	LookupsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homevalue_gate_lookups_completed_total",
		Help: "Valuation lookups that returned a property record.",
	})

	// UpstreamErrors counts upstream API errors, labelled by service and type.
	// Valid services: attom, recaptcha, gemini. Valid types: network, timeout,
	// http, decode.
	UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homevalue_gate_upstream_errors_total",
		Help: "Upstream API errors, by service (attom|recaptcha|gemini) and type.",
	}, []string{"service", "type"})

	// EventLogSizeBytes is a gauge of the security event log file size on disk.
	EventLogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homevalue_gate_event_log_size_bytes",
		Help: "Size of the bbolt security event log on disk.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsAdmitted,
		RequestsDenied,
		LookupsCompleted,
		UpstreamErrors,
		EventLogSizeBytes,
	)
}
