package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "motionstream_build_info",
			Help: "Build information for the motionstream server",
		},
		[]string{"date", "sha", "version"},
	)

	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "motionstream_connections",
			Help: "Number of registered client connections",
		},
	)

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionstream_handshakes_total",
			Help: "Websocket handshakes by result",
		},
		[]string{"result"},
	)

	framesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionstream_frames_published_total",
			Help: "Frames accepted into the broadcast queue",
		},
		[]string{"topic"},
	)

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionstream_frames_sent_total",
			Help: "Frame deliveries written to a client",
		},
		[]string{"topic"},
	)

	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionstream_send_failures_total",
			Help: "Frame deliveries that failed and were dropped",
		},
		[]string{"topic"},
	)

	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motionstream_send_duration_seconds",
			Help:    "Time spent writing one frame to one client",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motionstream_dispatch_batch_frames",
			Help:    "Frames drained from the queue per dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	stateUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motionstream_state_updates_total",
			Help: "Inbound subscription messages by result",
		},
		[]string{"result"},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, connections, handshakes, framesPublished, framesSent, sendFailures, sendDuration, batchSize, stateUpdates)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SetConnections records the current number of registered connections.
func SetConnections(n int) { connections.Set(float64(n)) }

// RecordHandshake counts a handshake outcome such as "accepted" or "bad_request".
func RecordHandshake(result string) { handshakes.WithLabelValues(result).Inc() }

// RecordPublished counts a frame entering the queue.
func RecordPublished(topic string) { framesPublished.WithLabelValues(topic).Inc() }

// RecordSend records the outcome and duration of one frame write.
func RecordSend(topic string, d time.Duration, ok bool) {
	sendDuration.Observe(d.Seconds())
	if ok {
		framesSent.WithLabelValues(topic).Inc()
		return
	}
	sendFailures.WithLabelValues(topic).Inc()
}

// ObserveBatch records how many frames one dispatch cycle drained.
func ObserveBatch(n int) { batchSize.Observe(float64(n)) }

// RecordStateUpdate counts an inbound control message outcome.
func RecordStateUpdate(result string) { stateUpdates.WithLabelValues(result).Inc() }
