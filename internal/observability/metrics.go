package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_enqueue_total", Help: "Enqueue results"},
		[]string{"result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_dispatch_total", Help: "Dispatch outcomes"},
		[]string{"result"},
	)
	AdmissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bridge_admission_denied_total", Help: "Dispatches deferred by admission control"},
		[]string{"gate"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "bridge_send_latency_seconds", Help: "Device client send latency"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bridge_queue_depth", Help: "Queued messages by status"},
		[]string{"status"},
	)
	DeviceHealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bridge_device_health_score", Help: "Device health score (0-100)"},
		[]string{"device"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, Dispatches, AdmissionDenied, SendLatency, QueueDepth, DeviceHealthScore)
}
