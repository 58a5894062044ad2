package monitoring

import (
	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsStartedTotal *prometheus.CounterVec
	sessionsEndedTotal   *prometheus.CounterVec
	negotiationDuration  prometheus.Histogram
	negotiationLinks     prometheus.Histogram
	linkStateTransitions *prometheus.CounterVec
	iceRestartsTotal     prometheus.Counter

	qualityRTT        *prometheus.GaugeVec
	qualityJitter     *prometheus.GaugeVec
	qualityPacketLoss *prometheus.GaugeVec
	qualityBitrate    *prometheus.GaugeVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_sessions_started_total",
			Help: "Total number of call sessions started",
		}, []string{"mode"}),

		sessionsEndedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_sessions_ended_total",
			Help: "Total number of call sessions reaching a terminal state",
		}, []string{"state", "reason"}),

		negotiationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmesh_negotiation_duration_seconds",
			Help:    "Time from session start to the first fully connected state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		negotiationLinks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmesh_negotiation_connected_links",
			Help:    "Connected links at the moment a session goes active",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),

		linkStateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_link_state_transitions_total",
			Help: "Peer link state transitions by resulting state",
		}, []string{"state"}),

		iceRestartsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callmesh_ice_restarts_total",
			Help: "Total number of ICE restart attempts",
		}),

		qualityRTT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callmesh_link_rtt_seconds",
			Help: "Last sampled round trip time per remote participant",
		}, []string{"remote"}),

		qualityJitter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callmesh_link_jitter_seconds",
			Help: "Last sampled jitter per remote participant",
		}, []string{"remote"}),

		qualityPacketLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callmesh_link_packet_loss_ratio",
			Help: "Last sampled packet loss ratio per remote participant",
		}, []string{"remote"}),

		qualityBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callmesh_link_bitrate_kbps",
			Help: "Last sampled inbound bitrate per remote participant",
		}, []string{"remote"}),
	}
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) SessionStarted(mode domain.CallMode) {
	p.sessionsStartedTotal.WithLabelValues(string(mode)).Inc()
}

func (p *PrometheusCollector) SessionEnded(state domain.SessionState, reason domain.FailReason) {
	p.sessionsEndedTotal.WithLabelValues(string(state), string(reason)).Inc()
}

func (p *PrometheusCollector) NegotiationCompleted(seconds float64, connectedLinks int) {
	p.negotiationDuration.Observe(seconds)
	p.negotiationLinks.Observe(float64(connectedLinks))
}

func (p *PrometheusCollector) LinkStateChanged(state domain.LinkState) {
	p.linkStateTransitions.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) ICERestartAttempted() {
	p.iceRestartsTotal.Inc()
}

func (p *PrometheusCollector) QualitySampled(remote domain.ParticipantID, sample domain.QualitySample) {
	p.qualityRTT.WithLabelValues(string(remote)).Set(sample.RTT.Seconds())
	p.qualityJitter.WithLabelValues(string(remote)).Set(sample.Jitter.Seconds())
	p.qualityPacketLoss.WithLabelValues(string(remote)).Set(sample.PacketLoss)
	p.qualityBitrate.WithLabelValues(string(remote)).Set(float64(sample.BitrateKbps))
}

// LinkRemoved drops the per-remote quality series once a link is removed
// so ended calls do not pin stale gauges.
func (p *PrometheusCollector) LinkRemoved(remote domain.ParticipantID) {
	p.qualityRTT.DeleteLabelValues(string(remote))
	p.qualityJitter.DeleteLabelValues(string(remote))
	p.qualityPacketLoss.DeleteLabelValues(string(remote))
	p.qualityBitrate.DeleteLabelValues(string(remote))
}
