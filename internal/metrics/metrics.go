package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the realtime core's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	PresenceBroadcasts prometheus.Counter
	MessagesRelayed    prometheus.Counter
	RelayDeliveries    prometheus.Counter
	NotificationsSent  prometheus.Counter
	ActiveCalls        prometheus.Gauge
	CallsStarted       prometheus.Counter
	CallsAnswered      prometheus.Counter
	CallsEnded         *prometheus.CounterVec
	CandidatesBuffered prometheus.Counter
	CandidatesFlushed  prometheus.Counter
	DroppedFrames      prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hr_realtime_active_connections",
				Help: "Current number of open websocket connections",
			}),
			PresenceBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_presence_broadcasts_total",
				Help: "Total number of status_update broadcasts",
			}),
			MessagesRelayed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_messages_relayed_total",
				Help: "Total number of messages relayed to conversation rooms",
			}),
			RelayDeliveries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_relay_deliveries_total",
				Help: "Total number of new_message frames delivered to connections",
			}),
			NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_notifications_total",
				Help: "Total number of notification frames emitted",
			}),
			ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hr_realtime_active_calls",
				Help: "Current number of calls not yet ended",
			}),
			CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_calls_started_total",
				Help: "Total number of call attempts",
			}),
			CallsAnswered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_calls_answered_total",
				Help: "Total number of answered calls",
			}),
			CallsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "hr_realtime_calls_ended_total",
				Help: "Total number of ended calls by reason",
			}, []string{"reason"}),
			CandidatesBuffered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_ice_candidates_buffered_total",
				Help: "Total number of ICE candidates buffered before answer",
			}),
			CandidatesFlushed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_ice_candidates_flushed_total",
				Help: "Total number of buffered ICE candidates released after answer",
			}),
			DroppedFrames: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hr_realtime_dropped_frames_total",
				Help: "Total number of frames dropped on full send buffers",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) RecordPresenceBroadcast() {
	if m == nil || m.PresenceBroadcasts == nil {
		return
	}
	m.PresenceBroadcasts.Inc()
}

func (m *Metrics) RecordRelay(deliveries int) {
	if m == nil || m.MessagesRelayed == nil || m.RelayDeliveries == nil {
		return
	}
	m.MessagesRelayed.Inc()
	m.RelayDeliveries.Add(float64(deliveries))
}

func (m *Metrics) RecordNotification() {
	if m == nil || m.NotificationsSent == nil {
		return
	}
	m.NotificationsSent.Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil || m.CallsStarted == nil || m.ActiveCalls == nil {
		return
	}
	m.CallsStarted.Inc()
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallAnswered() {
	if m == nil || m.CallsAnswered == nil {
		return
	}
	m.CallsAnswered.Inc()
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil || m.CallsEnded == nil || m.ActiveCalls == nil {
		return
	}
	m.CallsEnded.WithLabelValues(reason).Inc()
	m.ActiveCalls.Dec()
}

func (m *Metrics) CandidateBuffered() {
	if m == nil || m.CandidatesBuffered == nil {
		return
	}
	m.CandidatesBuffered.Inc()
}

func (m *Metrics) CandidatesReleased(n int) {
	if m == nil || m.CandidatesFlushed == nil {
		return
	}
	m.CandidatesFlushed.Add(float64(n))
}

func (m *Metrics) FrameDropped() {
	if m == nil || m.DroppedFrames == nil {
		return
	}
	m.DroppedFrames.Inc()
}
