package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/retry"

	"go.uber.org/zap"
)

// SessionConfig bounds the asynchronous parts of a call session.
type SessionConfig struct {
	// NegotiationTimeout caps how long the session stays in Negotiating.
	// At expiry: zero connected links fails the session, otherwise the
	// unconnected links are dropped and the session goes Active.
	NegotiationTimeout time.Duration
	// EndGrace caps how long End blocks waiting for teardown before
	// resources are force-released in the background.
	EndGrace time.Duration
	// PublishTimeout bounds every signaling publish issued from the loop.
	PublishTimeout time.Duration
	// ICERestart is the per-link reconnect policy after transient loss.
	ICERestart retry.Config
}

// DefaultSessionConfig returns the session timing defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		NegotiationTimeout: 30 * time.Second,
		EndGrace:           5 * time.Second,
		PublishTimeout:     5 * time.Second,
		ICERestart: retry.Config{
			Enabled:      true,
			MaxAttempts:  4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

type sessionDeps struct {
	signaling ports.SignalingAdapter
	directory ports.MembershipDirectory
	transport ports.MediaTransport
	metrics   ports.Metrics
	logger    *zap.SugaredLogger
	emit      func(domain.CallEvent)
	cfg       SessionConfig
}

// callSession owns the peer links of one active call and drives the session
// state machine. All state mutations run on a single loop goroutine fed by
// the inbox; signaling messages, media callbacks, UI commands and timer
// firings are enqueued and processed one at a time.
type callSession struct {
	id      domain.SessionID
	channel domain.ChannelID
	local   domain.ParticipantID
	token   string
	deps    sessionDeps

	inbox  chan func()
	closed chan struct{}

	// Loop-owned. Never touched off the loop goroutine.
	state            domain.SessionState
	mode             domain.CallMode
	pip              bool
	muted            bool
	reason           domain.FailReason
	createdAt        time.Time
	participants     map[domain.ParticipantID]struct{}
	links            map[domain.ParticipantID]*peerLink
	seq              uint64
	tearing          bool
	negotiationTimer *time.Timer
	lifeCtx          context.Context
	lifeCancel       context.CancelFunc

	// Mirror of the latest snapshot for external readers.
	snapMu sync.RWMutex
	snap   domain.SessionSnapshot

	endOnce sync.Once
}

func newCallSession(id domain.SessionID, channel domain.ChannelID, local domain.ParticipantID, token string, mode domain.CallMode, deps sessionDeps) *callSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &callSession{
		id:           id,
		channel:      channel,
		local:        local,
		token:        token,
		deps:         deps,
		inbox:        make(chan func(), 64),
		closed:       make(chan struct{}),
		state:        domain.SessionIdle,
		mode:         mode,
		createdAt:    time.Now(),
		participants: make(map[domain.ParticipantID]struct{}),
		links:        make(map[domain.ParticipantID]*peerLink),
		lifeCtx:      ctx,
		lifeCancel:   cancel,
	}
	s.snap = s.buildSnapshot()
	return s
}

// begin starts the loop and the connection attempt. Returns immediately.
func (s *callSession) begin() {
	go s.run()
	s.post(func() { s.open() })
}

func (s *callSession) run() {
	defer close(s.closed)
	for {
		fn := <-s.inbox
		fn()
		if s.state.Terminal() {
			return
		}
	}
}

// post enqueues fn onto the session loop. A true return means fn was
// buffered, not that it will run: the buffered inbox still accepts sends
// after the loop has exited. Callers that wait for completion must also
// watch s.closed.
func (s *callSession) post(fn func()) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case <-s.closed:
		return false
	case s.inbox <- fn:
		return true
	}
}

// do runs fn on the loop and waits for its result.
func (s *callSession) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	if !s.post(func() { errCh <- fn() }) {
		return domain.ErrNoActiveCall
	}
	select {
	case err := <-errCh:
		return err
	case <-s.closed:
		// closed only happens after the loop's final fn returned, so a
		// result that raced the exit is already buffered.
		select {
		case err := <-errCh:
			return err
		default:
			return domain.ErrNoActiveCall
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *callSession) terminated() bool {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.State.Terminal()
}

func (s *callSession) snapshot() domain.SessionSnapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// opCtx is the context for media/signaling operations issued from the loop.
func (s *callSession) opCtx() context.Context {
	return s.lifeCtx
}

// open runs on the loop: subscribe to the channel topic, announce
// ourselves, discover reachable participants and start one link per remote.
func (s *callSession) open() {
	s.setState(domain.SessionRequesting)

	stream, err := s.deps.signaling.Subscribe(s.lifeCtx, s.channel)
	if err != nil {
		s.deps.logger.Errorw("signaling subscribe failed", "channel", s.channel, "error", err)
		s.fail(domain.FailReasonSignalingUnavailable)
		return
	}
	go s.pump(stream)

	s.publishTo("", domain.SignalJoin, nil)
	if s.state.Terminal() {
		// The join publish was rejected and already failed the session.
		return
	}

	remotes, err := s.deps.directory.ListReachableParticipants(s.lifeCtx, s.channel)
	if err != nil {
		s.deps.logger.Warnw("membership query failed", "channel", s.channel, "error", err)
		remotes = nil
	}

	s.setState(domain.SessionNegotiating)
	for _, remote := range remotes {
		s.addLink(remote)
		if s.state.Terminal() {
			return
		}
	}

	s.negotiationTimer = time.AfterFunc(s.deps.cfg.NegotiationTimeout, func() {
		s.post(func() { s.onNegotiationTimeout() })
	})
}

// pump forwards inbound signaling onto the loop. A stream that closes
// outside our own teardown means the signaling plane itself is gone.
func (s *callSession) pump(stream <-chan domain.SignalingMessage) {
	for msg := range stream {
		m := msg
		if !s.post(func() { s.handleSignal(m) }) {
			return
		}
	}
	s.post(func() {
		if s.state == domain.SessionEnding || s.state.Terminal() {
			return
		}
		s.deps.logger.Errorw("signaling stream lost", "channel", s.channel)
		s.fail(domain.FailReasonSignalingUnavailable)
	})
}

func (s *callSession) handleSignal(msg domain.SignalingMessage) {
	if s.state == domain.SessionEnding || s.state.Terminal() {
		return
	}
	if !msg.AddressedTo(s.local) {
		return
	}

	switch msg.Kind {
	case domain.SignalJoin:
		s.onParticipantJoin(msg.From)
	case domain.SignalLeave, domain.SignalBye:
		if link, ok := s.links[msg.From]; ok {
			link.close()
			s.removeLink(link)
		}
	case domain.SignalOffer:
		link, ok := s.links[msg.From]
		if !ok {
			// The remote side offers first when it holds the smaller id, or
			// when it rejoined after we dropped its link.
			link = s.addLink(msg.From)
			if link == nil {
				return
			}
		}
		link.handleOffer(msg)
	case domain.SignalAnswer:
		if link, ok := s.links[msg.From]; ok {
			link.handleAnswer(msg)
		}
	case domain.SignalCandidate:
		if link, ok := s.links[msg.From]; ok {
			link.handleCandidate(msg)
		}
	case domain.SignalError:
		var ep domain.ErrorPayload
		if err := decodePayload(msg.Payload, &ep); err == nil {
			s.deps.logger.Warnw("peer signaled error", "from", msg.From, "code", ep.Code, "message", ep.Message)
		}
	}
}

// onParticipantJoin re-queries the directory so membership changes land as
// explicit join/leave events rather than polling.
func (s *callSession) onParticipantJoin(from domain.ParticipantID) {
	remotes, err := s.deps.directory.ListReachableParticipants(s.lifeCtx, s.channel)
	if err != nil {
		s.deps.logger.Warnw("membership re-query failed", "channel", s.channel, "error", err)
		remotes = []domain.ParticipantID{from}
	}
	known := make(map[domain.ParticipantID]bool, len(remotes)+1)
	for _, remote := range remotes {
		known[remote] = true
	}
	known[from] = true

	for remote := range known {
		if remote == s.local {
			continue
		}
		if _, ok := s.links[remote]; !ok {
			s.addLink(remote)
		}
	}
}

// addLink creates the peer link for a discovered remote participant. The
// smaller-id side opens with an offer; the other side waits for it.
func (s *callSession) addLink(remote domain.ParticipantID) *peerLink {
	media, err := s.deps.transport.NewLink(s.lifeCtx, s.mode)
	if err != nil {
		s.deps.logger.Errorw("media link create failed", "remote", remote, "error", err)
		return nil
	}
	link := newPeerLink(s, remote, media)
	s.links[remote] = link
	s.participants[remote] = struct{}{}
	s.refreshSnapshot()

	if link.offerer {
		link.sendInitialOffer()
	}
	return link
}

// removeLink erases the link after it has gone through Closed or
// Disconnected. A single map erase; links never point at each other.
func (s *callSession) removeLink(link *peerLink) {
	delete(s.links, link.remote)
	delete(s.participants, link.remote)
	s.deps.metrics.LinkRemoved(link.remote)
	s.refreshSnapshot()
}

func (s *callSession) onLinkConnected(link *peerLink) {
	s.refreshSnapshot()
	s.maybeActivate()
}

// onLinkDown absorbs a link-level failure: the participant is dropped, the
// session keeps going. Only signaling loss or an empty negotiation fails
// the whole call.
func (s *callSession) onLinkDown(link *peerLink) {
	s.removeLink(link)
	if s.state == domain.SessionNegotiating {
		s.maybeActivate()
	}
}

func (s *callSession) maybeActivate() {
	if s.state != domain.SessionNegotiating || len(s.links) == 0 {
		return
	}
	for _, link := range s.links {
		if link.state != domain.LinkConnected {
			return
		}
	}
	s.stopNegotiationTimer()
	s.deps.metrics.NegotiationCompleted(time.Since(s.createdAt).Seconds(), len(s.links))
	s.setState(domain.SessionActive)
}

func (s *callSession) onNegotiationTimeout() {
	if s.state != domain.SessionNegotiating {
		return
	}
	var stale []*peerLink
	connected := 0
	for _, link := range s.links {
		if link.state == domain.LinkConnected {
			connected++
		} else {
			stale = append(stale, link)
		}
	}
	if connected == 0 {
		s.deps.logger.Errorw("negotiation timed out with no connected links",
			"channel", s.channel, "links", len(s.links))
		s.fail(domain.FailReasonNegotiationTimeout)
		return
	}
	// Partial success: drop whoever never connected and go active with the
	// rest.
	for _, link := range stale {
		s.publishTo(link.remote, domain.SignalBye, domain.ByePayload{Reason: "negotiation timeout"})
		link.close()
		s.removeLink(link)
	}
	s.deps.metrics.NegotiationCompleted(time.Since(s.createdAt).Seconds(), connected)
	s.setState(domain.SessionActive)
}

// switchMode renegotiates the media kind on every live link without
// touching signaling identity. Loop-confined; callers go through do().
func (s *callSession) switchMode(mode domain.CallMode) error {
	if s.state != domain.SessionNegotiating && s.state != domain.SessionActive {
		return domain.ErrNoActiveCall
	}
	if mode == s.mode {
		return nil
	}
	s.mode = mode
	for _, link := range s.links {
		if link.live() {
			link.switchMode(mode)
		}
	}
	s.setState(s.state) // re-emit snapshot with the new mode
	return nil
}

func (s *callSession) setMuted(muted bool) error {
	if s.state == domain.SessionEnding || s.state.Terminal() {
		return domain.ErrNoActiveCall
	}
	s.muted = muted
	for _, link := range s.links {
		if link.live() {
			if err := link.media.SetMuted(muted); err != nil {
				s.deps.logger.Warnw("set muted failed", "remote", link.remote, "error", err)
			}
		}
	}
	return nil
}

func (s *callSession) setPictureInPicture(on bool) error {
	if s.state.Terminal() {
		return domain.ErrNoActiveCall
	}
	s.pip = on
	s.setState(s.state) // snapshot carries the flag; no signaling effect
	return nil
}

// end is idempotent and always runs teardown to completion; the caller is
// released after EndGrace even if releases are still draining.
func (s *callSession) end() {
	s.endOnce.Do(func() {
		done := make(chan struct{})
		posted := s.post(func() {
			s.teardown(domain.SessionEnded, domain.FailReasonNone)
			close(done)
		})
		if !posted {
			return
		}
		select {
		case <-done:
		case <-s.closed:
		case <-time.After(s.deps.cfg.EndGrace):
			s.deps.logger.Warnw("end grace elapsed, teardown continues in background",
				"session", s.id)
		}
	})
}

func (s *callSession) fail(reason domain.FailReason) {
	s.teardown(domain.SessionFailed, reason)
}

// teardown releases every owned resource best-effort: bye + close per
// link, drop the signaling subscription, then park in the terminal state.
// Individual release failures are logged, never propagated.
func (s *callSession) teardown(final domain.SessionState, reason domain.FailReason) {
	if s.state.Terminal() || s.tearing {
		return
	}
	s.tearing = true
	if final == domain.SessionEnded {
		s.setState(domain.SessionEnding)
	}
	s.stopNegotiationTimer()

	for _, link := range s.links {
		if link.live() {
			s.publishTo(link.remote, domain.SignalBye, domain.ByePayload{Reason: "call ended"})
			link.close()
		}
		s.removeLink(link)
	}

	s.lifeCancel()
	if err := s.deps.signaling.Unsubscribe(s.channel); err != nil {
		s.deps.logger.Warnw("unsubscribe failed", "channel", s.channel, "error", err)
	}

	s.reason = reason
	s.setState(final)
	s.deps.metrics.SessionEnded(final, reason)
	s.deps.logger.Infow("call session finished",
		"session", s.id, "channel", s.channel, "state", final, "reason", reason)
}

// publishTo sends a control message from the loop. Empty to = broadcast.
// An auth-rejected publish fails the session; anything else is logged and
// absorbed.
func (s *callSession) publishTo(to domain.ParticipantID, kind domain.SignalKind, payload interface{}) {
	s.seq++
	msg := domain.SignalingMessage{
		Kind:    kind,
		Channel: s.channel,
		From:    s.local,
		To:      to,
		Seq:     s.seq,
		Token:   s.token,
	}
	if payload != nil {
		msg.Payload = domain.EncodePayload(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.cfg.PublishTimeout)
	defer cancel()
	if err := s.deps.signaling.Publish(ctx, s.channel, msg); err != nil {
		if errors.Is(err, domain.ErrAuthExpired) && !s.tearing && !s.state.Terminal() {
			s.deps.logger.Errorw("signaling publish rejected: token expired", "channel", s.channel)
			s.fail(domain.FailReasonAuthExpired)
			return
		}
		s.deps.logger.Warnw("signaling publish failed",
			"channel", s.channel, "kind", kind, "to", to, "error", err)
	}
}

func (s *callSession) setState(state domain.SessionState) {
	s.state = state
	snap := s.refreshSnapshot()
	s.deps.emit(domain.CallEvent{Kind: domain.EventSessionState, Session: snap})
}

func (s *callSession) emitLink(remote domain.ParticipantID, state domain.LinkState) {
	s.refreshSnapshot()
	s.deps.emit(domain.CallEvent{Kind: domain.EventLinkState, Participant: remote, LinkState: state})
}

func (s *callSession) emitQuality(remote domain.ParticipantID, sample domain.QualitySample) {
	s.refreshSnapshot()
	q := sample
	s.deps.emit(domain.CallEvent{Kind: domain.EventQuality, Participant: remote, Quality: &q})
}

func (s *callSession) refreshSnapshot() domain.SessionSnapshot {
	snap := s.buildSnapshot()
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
	return snap
}

func (s *callSession) buildSnapshot() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		ID:               s.id,
		Channel:          s.channel,
		Local:            s.local,
		State:            s.state,
		Mode:             s.mode,
		PictureInPicture: s.pip,
		Reason:           s.reason,
		CreatedAt:        s.createdAt,
	}
	for remote := range s.participants {
		snap.Participants = append(snap.Participants, remote)
	}
	for _, link := range s.links {
		snap.Links = append(snap.Links, link.snapshot())
	}
	return snap
}

func (s *callSession) stopNegotiationTimer() {
	if s.negotiationTimer != nil {
		s.negotiationTimer.Stop()
		s.negotiationTimer = nil
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}
