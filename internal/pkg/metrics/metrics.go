// Package metrics exposes the Prometheus collectors published by the PLDM
// firmware-update core. Callers register Registry with an HTTP handler
// (e.g. promhttp.HandlerFor) on whatever mux the host process already runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the collector registry the PLDM core publishes its metrics
// to. It is kept private to this package's collectors rather than reusing
// prometheus.DefaultRegisterer so a host process can mount it under any
// path without colliding with its own metrics.
var Registry = prometheus.NewRegistry()

var (
	// ActivationProgress is the current UpdateManager activation progress,
	// 0-100. Reset to 0 whenever a package is cleared or accepted.
	ActivationProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pldm_fwupdate_activation_progress",
			Help: "Current activation progress percentage (0-100) of the in-flight update session.",
		},
	)

	// InFlightRequests tracks live RequesterBus instance IDs per endpoint.
	InFlightRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pldm_fwupdate_inflight_requests",
			Help: "Number of outstanding PLDM requests awaiting a response, by endpoint.",
		},
		[]string{"endpoint"},
	)

	// RetriesTotal counts RequesterBus retry attempts by PLDM command.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_fwupdate_retries_total",
			Help: "Total number of PLDM request retries, by command.",
		},
		[]string{"command"},
	)

	// TimeoutsTotal counts instance-id expirations and UA_T2 watchdog
	// firings by endpoint.
	TimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_fwupdate_timeouts_total",
			Help: "Total number of request timeouts and transfer watchdog firings, by endpoint and kind.",
		},
		[]string{"endpoint", "kind"},
	)

	// DeviceResult counts terminal DeviceUpdater outcomes.
	DeviceResult = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pldm_fwupdate_device_result_total",
			Help: "Total number of DeviceUpdater terminations, by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
)

func init() {
	Registry.MustRegister(ActivationProgress, InFlightRequests, RetriesTotal, TimeoutsTotal, DeviceResult)
}
