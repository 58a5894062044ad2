package services

import (
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/retry"
)

// peerLink tracks one negotiated media connection between the local
// participant and one remote participant. Every method runs on the owning
// session's loop goroutine; media-layer callbacks hop back onto the loop
// before touching link state.
type peerLink struct {
	session *callSession
	remote  domain.ParticipantID
	media   ports.MediaLink

	// offerer is decided once per pair: the lexicographically smaller
	// participant id sends the initial offer, so exactly one side offers
	// even when both discover each other simultaneously.
	offerer bool

	state               domain.LinkState
	localMediaAttached  bool
	remoteMediaAttached bool
	lastQuality         *domain.QualitySample

	// lastSeq is the highest sequence applied from this remote. Delivery
	// within a pair is ordered, so anything at or below it is a duplicate
	// or stale.
	lastSeq uint64
	// answered flips once the remote's answer to our initial offer has been
	// applied; until then any remote offer on an offerer link is glare.
	answered bool

	restartAttempts int
	restartTimer    *time.Timer
	closedByUs      bool
}

func newPeerLink(s *callSession, remote domain.ParticipantID, media ports.MediaLink) *peerLink {
	l := &peerLink{
		session: s,
		remote:  remote,
		media:   media,
		offerer: s.local < remote,
		state:   domain.LinkNew,
	}

	media.OnCandidate(func(candidate string) {
		s.post(func() { l.onLocalCandidate(candidate) })
	})
	media.OnStateChange(func(ts ports.TransportState) {
		s.post(func() { l.onTransportState(ts) })
	})
	media.OnQuality(func(sample domain.QualitySample) {
		s.post(func() { l.onQuality(sample) })
	})
	media.OnRemoteTrack(func() {
		s.post(func() { l.remoteMediaAttached = true })
	})

	return l
}

func (l *peerLink) snapshot() domain.LinkSnapshot {
	return domain.LinkSnapshot{
		Remote:              l.remote,
		State:               l.state,
		LocalMediaAttached:  l.localMediaAttached,
		RemoteMediaAttached: l.remoteMediaAttached,
		LastQuality:         l.lastQuality,
	}
}

func (l *peerLink) live() bool {
	return l.state != domain.LinkDisconnected && l.state != domain.LinkClosed
}

// sendInitialOffer starts negotiation from the offering side.
func (l *peerLink) sendInitialOffer() {
	sdp, err := l.media.CreateOffer(l.session.opCtx())
	if err != nil {
		l.session.deps.logger.Warnw("create offer failed",
			"remote", l.remote, "error", err)
		l.giveUp()
		return
	}
	l.localMediaAttached = true
	l.setState(domain.LinkOffering)
	l.session.publishTo(l.remote, domain.SignalOffer, domain.OfferPayload{
		SDP:  sdp,
		Mode: l.session.mode,
	})
}

// accept reports whether the message should be applied. Sequence numbers
// are monotonic per sender and per-pair delivery is ordered, so one counter
// covers every message kind.
func (l *peerLink) accept(msg domain.SignalingMessage) bool {
	if msg.Seq <= l.lastSeq {
		return false
	}
	l.lastSeq = msg.Seq
	return true
}

// handleOffer applies a remote offer: the initial one on the answering
// side, or a renegotiation (mode switch, ICE restart) in either direction.
func (l *peerLink) handleOffer(msg domain.SignalingMessage) {
	if !l.accept(msg) {
		return
	}
	if l.offerer && !l.answered {
		// Glare: both sides offered. The smaller id wins the exchange, and
		// that is us, so the remote offer is dropped; the remote side
		// answers ours instead. Gated on the handshake rather than link
		// state: the transport can report Connected before the colliding
		// offer is delivered.
		return
	}

	var offer domain.OfferPayload
	if err := decodePayload(msg.Payload, &offer); err != nil {
		l.session.deps.logger.Warnw("malformed offer", "remote", l.remote, "error", err)
		return
	}

	initial := l.state == domain.LinkNew
	if initial {
		l.setState(domain.LinkAnswering)
	}

	answer, err := l.media.AcceptOffer(l.session.opCtx(), offer.SDP)
	if err != nil {
		l.session.deps.logger.Warnw("accept offer failed", "remote", l.remote, "error", err)
		if initial {
			l.giveUp()
		}
		return
	}
	l.localMediaAttached = true
	if initial {
		l.setState(domain.LinkConnecting)
	}
	l.session.publishTo(l.remote, domain.SignalAnswer, domain.AnswerPayload{SDP: answer})
}

func (l *peerLink) handleAnswer(msg domain.SignalingMessage) {
	if !l.accept(msg) {
		return
	}

	var answer domain.AnswerPayload
	if err := decodePayload(msg.Payload, &answer); err != nil {
		l.session.deps.logger.Warnw("malformed answer", "remote", l.remote, "error", err)
		return
	}
	if err := l.media.AcceptAnswer(l.session.opCtx(), answer.SDP); err != nil {
		l.session.deps.logger.Warnw("accept answer failed", "remote", l.remote, "error", err)
		return
	}
	l.answered = true
	if l.state == domain.LinkOffering {
		l.setState(domain.LinkConnecting)
	}
}

func (l *peerLink) handleCandidate(msg domain.SignalingMessage) {
	if !l.accept(msg) {
		return
	}

	var cand domain.CandidatePayload
	if err := decodePayload(msg.Payload, &cand); err != nil {
		l.session.deps.logger.Warnw("malformed candidate", "remote", l.remote, "error", err)
		return
	}
	if err := l.media.AddRemoteCandidate(cand.Candidate); err != nil {
		l.session.deps.logger.Debugw("add candidate failed", "remote", l.remote, "error", err)
	}
}

func (l *peerLink) onLocalCandidate(candidate string) {
	if !l.live() {
		return
	}
	l.session.publishTo(l.remote, domain.SignalCandidate, domain.CandidatePayload{Candidate: candidate})
}

func (l *peerLink) onTransportState(ts ports.TransportState) {
	if !l.live() {
		return
	}
	switch ts {
	case ports.TransportConnected:
		l.restartAttempts = 0
		l.stopRestartTimer()
		if l.state != domain.LinkConnected {
			l.setState(domain.LinkConnected)
			l.session.onLinkConnected(l)
		}
	case ports.TransportDisconnected:
		// Transient loss: keep the link, retry with an ICE restart window.
		if l.state == domain.LinkConnected || l.state == domain.LinkConnecting {
			l.setState(domain.LinkConnecting)
			l.scheduleRestart()
		}
	case ports.TransportFailed:
		l.giveUp()
	case ports.TransportClosed:
		if !l.closedByUs {
			l.giveUp()
		}
	}
}

func (l *peerLink) onQuality(sample domain.QualitySample) {
	if !l.live() {
		return
	}
	s := sample
	l.lastQuality = &s
	l.session.deps.metrics.QualitySampled(l.remote, s)
	l.session.emitQuality(l.remote, s)
}

func (l *peerLink) scheduleRestart() {
	cfg := l.session.deps.cfg.ICERestart
	if l.restartAttempts >= cfg.MaxAttempts {
		l.giveUp()
		return
	}
	delay := retry.NextDelay(cfg, l.restartAttempts)
	l.restartAttempts++
	l.session.deps.metrics.ICERestartAttempted()

	l.stopRestartTimer()
	l.restartTimer = time.AfterFunc(delay, func() {
		l.session.post(func() { l.doRestart() })
	})
}

func (l *peerLink) doRestart() {
	if l.state != domain.LinkConnecting {
		return
	}
	sdp, err := l.media.RestartICE(l.session.opCtx())
	if err != nil {
		l.session.deps.logger.Warnw("ice restart failed",
			"remote", l.remote, "attempt", l.restartAttempts, "error", err)
		l.scheduleRestart()
		return
	}
	l.session.publishTo(l.remote, domain.SignalOffer, domain.OfferPayload{
		SDP:  sdp,
		Mode: l.session.mode,
	})
}

// switchMode renegotiates this link's media kind in place. The switching
// side always offers; the initial-offer tie-break does not apply to
// renegotiation.
func (l *peerLink) switchMode(mode domain.CallMode) {
	if err := l.media.SetMode(l.session.opCtx(), mode); err != nil {
		l.session.deps.logger.Warnw("set mode failed", "remote", l.remote, "mode", mode, "error", err)
		return
	}
	sdp, err := l.media.CreateOffer(l.session.opCtx())
	if err != nil {
		l.session.deps.logger.Warnw("renegotiation offer failed", "remote", l.remote, "error", err)
		return
	}
	l.session.publishTo(l.remote, domain.SignalOffer, domain.OfferPayload{SDP: sdp, Mode: mode})
}

// giveUp marks the link Disconnected and reports it to the session. The
// participant has effectively left; the session stays up for the others.
func (l *peerLink) giveUp() {
	if !l.live() {
		return
	}
	l.stopRestartTimer()
	l.closedByUs = true
	if err := l.media.Close(); err != nil {
		l.session.deps.logger.Debugw("media close", "remote", l.remote, "error", err)
	}
	l.setState(domain.LinkDisconnected)
	l.session.onLinkDown(l)
}

// close is the deliberate local teardown path (bye received or session
// ending). Always releases the media senders/receivers for this link.
func (l *peerLink) close() {
	if !l.live() {
		return
	}
	l.stopRestartTimer()
	l.closedByUs = true
	if err := l.media.Close(); err != nil {
		l.session.deps.logger.Debugw("media close", "remote", l.remote, "error", err)
	}
	l.setState(domain.LinkClosed)
}

func (l *peerLink) setState(state domain.LinkState) {
	if l.state == state {
		return
	}
	l.state = state
	l.session.deps.metrics.LinkStateChanged(state)
	l.session.emitLink(l.remote, state)
}

func (l *peerLink) stopRestartTimer() {
	if l.restartTimer != nil {
		l.restartTimer.Stop()
		l.restartTimer = nil
	}
}
