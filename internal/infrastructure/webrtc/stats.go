package webrtc

import (
	"sync"
	"sync/atomic"
	"time"

	"callmesh/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const defaultQualityInterval = 3 * time.Second

// RTP clock rates for the negotiated codecs; jitter in receiver reports is
// expressed in these units.
const (
	opusClockRate  = 48000
	videoClockRate = 90000
)

// statsCollector aggregates RTCP receiver reports and inbound RTP volume
// into periodic QualitySamples for one link.
type statsCollector struct {
	interval time.Duration

	bytesReceived atomic.Int64

	mu         sync.Mutex
	rtt        time.Duration
	jitter     time.Duration
	packetLoss float64
}

func newStatsCollector(interval time.Duration) *statsCollector {
	if interval <= 0 {
		interval = defaultQualityInterval
	}
	return &statsCollector{interval: interval}
}

// readSenderRTCP consumes receiver reports the remote side sends about our
// outbound stream. Loop ends when the sender is closed with the link.
func (c *statsCollector) readSenderRTCP(sender *webrtc.RTPSender, clockRate uint32, closed <-chan struct{}, logger *zap.SugaredLogger) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			select {
			case <-closed:
			default:
				logger.Debugw("rtcp read ended", "error", err)
			}
			return
		}
		c.ingest(packets, clockRate)
	}
}

func (c *statsCollector) ingest(packets []rtcp.Packet, clockRate uint32) {
	var (
		totalLoss   float64
		totalJitter uint32
		totalRTT    time.Duration
		reports     int
		rttReports  int
	)

	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			totalLoss += float64(report.FractionLost) / 255.0
			totalJitter += report.Jitter
			reports++

			// RTT estimate from LSR/DLSR; Delay is in 1/65536 seconds.
			if report.LastSenderReport != 0 && report.Delay != 0 {
				totalRTT += time.Duration(report.Delay) * time.Second / 65536
				rttReports++
			}
		}
	}

	if reports == 0 {
		return
	}

	c.mu.Lock()
	c.packetLoss = totalLoss / float64(reports)
	// Interarrival jitter is reported in RTP timestamp units.
	avgTicks := float64(totalJitter) / float64(reports)
	c.jitter = time.Duration(avgTicks * float64(time.Second) / float64(clockRate))
	if rttReports > 0 {
		c.rtt = totalRTT / time.Duration(rttReports)
	}
	c.mu.Unlock()
}

// drainRTP keeps the remote track's packet queue moving and counts inbound
// volume. The core never decodes media; playout happens in the renderer.
func (c *statsCollector) drainRTP(track *webrtc.TrackRemote, closed <-chan struct{}, logger *zap.SugaredLogger) {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			select {
			case <-closed:
			default:
				logger.Debugw("remote track read ended",
					"track_id", track.ID(),
					"error", err,
				)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		c.bytesReceived.Add(int64(n))
	}
}

// run emits a QualitySample each interval until the link closes.
func (c *statsCollector) run(closed <-chan struct{}, emit func(domain.QualitySample)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var lastBytes int64
	for {
		select {
		case <-closed:
			return
		case now := <-ticker.C:
			bytes := c.bytesReceived.Load()
			delta := bytes - lastBytes
			lastBytes = bytes

			c.mu.Lock()
			sample := domain.QualitySample{
				RTT:         c.rtt,
				Jitter:      c.jitter,
				PacketLoss:  c.packetLoss,
				BitrateKbps: int(float64(delta) * 8 / 1000 / c.interval.Seconds()),
				SampledAt:   now,
			}
			c.mu.Unlock()

			emit(sample)
		}
	}
}
