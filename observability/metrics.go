package observability

import (
	"chat-relay/domain/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector exposed on /metrics.
// Build it once per process with the registerer that backs the /metrics handler.
type Metrics struct {
	connections        *prometheus.GaugeVec
	roomsSubscribed    prometheus.Gauge
	messagesPersisted  prometheus.Counter
	broadcastDelivered prometheus.Counter
	broadcastFailed    prometheus.Counter
	busPublishFailed   prometheus.Counter
	framesRejected     *prometheus.CounterVec
	sessionsRefused    *prometheus.CounterVec
	processRSS         prometheus.Gauge
	processCPU         prometheus.Gauge
	channelLength      *prometheus.GaugeVec
	channelCapacity    *prometheus.GaugeVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_connections",
			Help: "Live connections by scope",
		}, []string{"scope"}),
		roomsSubscribed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms_subscribed",
			Help: "Rooms this process holds a fan-out subscription for",
		}),
		messagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages durably stored",
		}),
		broadcastDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcast_deliveries_total",
			Help: "Payloads queued to a local connection by a broadcast pass",
		}),
		broadcastFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_broadcast_failures_total",
			Help: "Connections evicted after a failed broadcast write",
		}),
		busPublishFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_bus_publish_failures_total",
			Help: "Fan-out bus publishes that failed and fell back to local delivery",
		}),
		framesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_rejected_total",
			Help: "Inbound frames answered with an error frame",
		}, []string{"reason"}),
		sessionsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sessions_refused_total",
			Help: "Sessions closed before becoming active",
		}, []string{"reason"}),
		processRSS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_process_rss_bytes",
			Help: "Resident memory of the relay process",
		}),
		processCPU: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_process_cpu_percent",
			Help: "CPU usage of the relay process",
		}),
		channelLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_channel_length",
			Help: "Items waiting in an internal channel",
		}, []string{"channel"}),
		channelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chat_channel_capacity",
			Help: "Capacity of an internal channel",
		}, []string{"channel"}),
	}
}

func (m *Metrics) ConnectionOpened(scope chat.Scope) {
	m.connections.WithLabelValues(string(scope)).Inc()
}

func (m *Metrics) ConnectionClosed(scope chat.Scope) {
	m.connections.WithLabelValues(string(scope)).Dec()
}

func (m *Metrics) RoomSubscribed()   { m.roomsSubscribed.Inc() }
func (m *Metrics) RoomUnsubscribed() { m.roomsSubscribed.Dec() }

func (m *Metrics) MessagePersisted() { m.messagesPersisted.Inc() }

func (m *Metrics) BroadcastDelivered(n int) { m.broadcastDelivered.Add(float64(n)) }
func (m *Metrics) BroadcastFailed(n int)    { m.broadcastFailed.Add(float64(n)) }

func (m *Metrics) BusPublishFailed() { m.busPublishFailed.Inc() }

func (m *Metrics) FrameRejected(reason string) {
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionRefused(reason string) {
	m.sessionsRefused.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProcessStats(rss uint64, cpu float64) {
	m.processRSS.Set(float64(rss))
	m.processCPU.Set(cpu)
}

func (m *Metrics) ChannelUsage(name string, length, capacity int) {
	m.channelLength.WithLabelValues(name).Set(float64(length))
	m.channelCapacity.WithLabelValues(name).Set(float64(capacity))
}
