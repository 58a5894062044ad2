package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the transport-level WebRTC settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// QualityInterval is the cadence of QualitySample emission per link.
	QualityInterval time.Duration
}

// Transport creates pion-backed media links. One Transport is shared by all
// sessions in the process.
type Transport struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewTransport(config Config, logger *zap.SugaredLogger) *Transport {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}

	return &Transport{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

var _ ports.MediaTransport = (*Transport)(nil)

// NewLink creates a peer connection with the audio sender attached, plus a
// video sender when the call starts in video mode.
func (t *Transport) NewLink(ctx context.Context, mode domain.CallMode) (ports.MediaLink, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   t.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	l := &link{
		pc:     pc,
		logger: t.logger,
		closed: make(chan struct{}),
		stats:  newStatsCollector(t.config.QualityInterval),
	}

	if err := l.attachAudio(); err != nil {
		_ = pc.Close()
		return nil, err
	}
	if mode == domain.CallModeVideo {
		if err := l.attachVideoLocked(); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		l.mu.Lock()
		fn := l.onCandidate
		l.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON().Candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("peer connection state changed", "state", state.String())
		l.mu.Lock()
		fn := l.onStateChange
		l.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.logger.Infow("remote track arrived",
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		l.mu.Lock()
		fn := l.onRemoteTrack
		l.mu.Unlock()
		if fn != nil {
			fn()
		}
		go l.stats.drainRTP(track, l.closed, t.logger)
	})

	go l.stats.run(l.closed, l.emitQuality)

	return l, nil
}

// link is one local-to-remote pion connection.
type link struct {
	pc    *webrtc.PeerConnection
	stats *statsCollector

	mu            sync.Mutex
	audioTrack    *webrtc.TrackLocalStaticRTP
	audioSender   *webrtc.RTPSender
	videoTrack    *webrtc.TrackLocalStaticRTP
	videoSender   *webrtc.RTPSender
	muted         bool
	outputDevice  string
	onCandidate   func(string)
	onStateChange func(ports.TransportState)
	onQuality     func(domain.QualitySample)
	onRemoteTrack func()

	closeOnce sync.Once
	closed    chan struct{}

	logger *zap.SugaredLogger
}

var _ ports.MediaLink = (*link)(nil)

func (l *link) attachAudio() error {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate},
		"audio",
		"callmesh-audio",
	)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	l.audioTrack = track
	l.audioSender = sender
	go l.stats.readSenderRTCP(sender, opusClockRate, l.closed, l.logger)
	return nil
}

func (l *link) CreateOffer(ctx context.Context) (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (l *link) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to apply remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (l *link) AcceptAnswer(ctx context.Context, sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}
	return nil
}

func (l *link) AddRemoteCandidate(candidate string) error {
	if err := l.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

func (l *link) RestartICE(ctx context.Context) (string, error) {
	offer, err := l.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return "", fmt.Errorf("failed to create restart offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

// SetMode attaches or detaches the video sender. The caller renegotiates
// afterwards via CreateOffer.
func (l *link) SetMode(ctx context.Context, mode domain.CallMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch mode {
	case domain.CallModeVideo:
		if l.videoSender != nil {
			return nil
		}
		return l.attachVideoLocked()
	case domain.CallModeAudio:
		if l.videoSender == nil {
			return nil
		}
		if err := l.pc.RemoveTrack(l.videoSender); err != nil {
			return fmt.Errorf("failed to remove video track: %w", err)
		}
		l.videoSender = nil
		l.videoTrack = nil
		return nil
	default:
		return fmt.Errorf("%w: mode %q", domain.ErrInvalidArgument, mode)
	}
}

// attachVideoLocked requires l.mu held, or an unshared link during setup.
func (l *link) attachVideoLocked() error {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
		"video",
		"callmesh-video",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}
	l.videoTrack = track
	l.videoSender = sender
	go l.stats.readSenderRTCP(sender, videoClockRate, l.closed, l.logger)
	return nil
}

// SetMuted stops or resumes outbound audio by swapping the sender's track.
// The transceiver stays negotiated so mute does not renegotiate.
func (l *link) SetMuted(muted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.muted == muted {
		return nil
	}
	if l.audioSender == nil {
		return domain.ErrNotConnected
	}

	var err error
	if muted {
		err = l.audioSender.ReplaceTrack(nil)
	} else {
		err = l.audioSender.ReplaceTrack(l.audioTrack)
	}
	if err != nil {
		return fmt.Errorf("failed to swap audio track: %w", err)
	}
	l.muted = muted
	return nil
}

// SetOutputDevice records the playout sink for this link. The render side
// reads the routing decision; the transport itself does not decode audio.
func (l *link) SetOutputDevice(deviceID string) error {
	select {
	case <-l.closed:
		return domain.ErrNotConnected
	default:
	}
	l.mu.Lock()
	l.outputDevice = deviceID
	l.mu.Unlock()
	l.logger.Infow("output device routed", "device_id", deviceID)
	return nil
}

func (l *link) OnCandidate(fn func(candidate string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *link) OnStateChange(fn func(state ports.TransportState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStateChange = fn
}

func (l *link) OnQuality(fn func(sample domain.QualitySample)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onQuality = fn
}

func (l *link) OnRemoteTrack(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRemoteTrack = fn
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.pc.Close()
	})
	return err
}

func (l *link) emitQuality(sample domain.QualitySample) {
	l.mu.Lock()
	fn := l.onQuality
	l.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) ports.TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return ports.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return ports.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ports.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ports.TransportFailed
	default:
		return ports.TransportClosed
	}
}
