package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/retry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSignaling records published messages and lets tests inject inbound
// ones through deliver. dropStream simulates losing the transport.
type fakeSignaling struct {
	mu         sync.Mutex
	stream     chan domain.SignalingMessage
	streamOpen bool
	published  []domain.SignalingMessage
	publishErr error
	unsubbed   int
}

var _ ports.SignalingAdapter = (*fakeSignaling)(nil)

func (f *fakeSignaling) Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = make(chan domain.SignalingMessage, 64)
	f.streamOpen = true
	return f.stream, nil
}

func (f *fakeSignaling) Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeSignaling) Unsubscribe(channel domain.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed++
	return nil
}

func (f *fakeSignaling) setPublishErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

func (f *fakeSignaling) deliver(msg domain.SignalingMessage) {
	f.mu.Lock()
	ch := f.stream
	f.mu.Unlock()
	ch <- msg
}

func (f *fakeSignaling) dropStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamOpen {
		close(f.stream)
		f.streamOpen = false
	}
}

func (f *fakeSignaling) sent(kind domain.SignalKind) []domain.SignalingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SignalingMessage
	for _, msg := range f.published {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeSignaling) unsubscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubbed
}

// fakeLink is a scripted media link. Tests drive connectivity through
// fireState and quality through fireQuality.
type fakeLink struct {
	mu         sync.Mutex
	mode       domain.CallMode
	muted      bool
	output     string
	closed     bool
	offers     int
	answers    int
	restarts   int
	candidates int
	offerErr   error
	acceptErr  error

	onCandidate func(string)
	onState     func(ports.TransportState)
	onQuality   func(domain.QualitySample)
	onTrack     func()
}

var _ ports.MediaLink = (*fakeLink)(nil)

func (l *fakeLink) CreateOffer(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offerErr != nil {
		return "", l.offerErr
	}
	l.offers++
	return "offer-sdp", nil
}

func (l *fakeLink) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acceptErr != nil {
		return "", l.acceptErr
	}
	l.answers++
	return "answer-sdp", nil
}

func (l *fakeLink) AcceptAnswer(ctx context.Context, sdp string) error { return nil }

func (l *fakeLink) AddRemoteCandidate(candidate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates++
	return nil
}

func (l *fakeLink) RestartICE(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restarts++
	return "restart-sdp", nil
}

func (l *fakeLink) SetMode(ctx context.Context, mode domain.CallMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	return nil
}

func (l *fakeLink) SetMuted(muted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muted = muted
	return nil
}

func (l *fakeLink) SetOutputDevice(deviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = deviceID
	return nil
}

func (l *fakeLink) OnCandidate(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = fn
}

func (l *fakeLink) OnStateChange(fn func(ports.TransportState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) OnQuality(fn func(domain.QualitySample)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onQuality = fn
}

func (l *fakeLink) OnRemoteTrack(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTrack = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) fireState(state ports.TransportState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (l *fakeLink) fireQuality(sample domain.QualitySample) {
	l.mu.Lock()
	fn := l.onQuality
	l.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

func (l *fakeLink) fireCandidate(candidate string) {
	l.mu.Lock()
	fn := l.onCandidate
	l.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (l *fakeLink) stats() (offers, answers, restarts, candidates int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offers, l.answers, l.restarts, l.candidates
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) currentMode() domain.CallMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *fakeLink) isMuted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted
}

func (l *fakeLink) outputDevice() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output
}

type fakeTransport struct {
	mu    sync.Mutex
	links []*fakeLink
	err   error
}

var _ ports.MediaTransport = (*fakeTransport)(nil)

func (t *fakeTransport) NewLink(ctx context.Context, mode domain.CallMode) (ports.MediaLink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	link := &fakeLink{mode: mode}
	t.links = append(t.links, link)
	return link, nil
}

func (t *fakeTransport) waitLink(tt *testing.T, index int) *fakeLink {
	tt.Helper()
	var link *fakeLink
	require.Eventually(tt, func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		if len(t.links) <= index {
			return false
		}
		link = t.links[index]
		return true
	}, 2*time.Second, 2*time.Millisecond)
	return link
}

type fakeIdentity struct {
	ident ports.Identity
	err   error
}

func (f *fakeIdentity) Identity(ctx context.Context) (ports.Identity, error) {
	return f.ident, f.err
}

type fixedDirectory struct {
	mu      sync.Mutex
	members []domain.ParticipantID
	err     error
}

var _ ports.MembershipDirectory = (*fixedDirectory)(nil)

func (d *fixedDirectory) ListReachableParticipants(ctx context.Context, channel domain.ChannelID) ([]domain.ParticipantID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]domain.ParticipantID, len(d.members))
	copy(out, d.members)
	return out, nil
}

func (d *fixedDirectory) set(members ...domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members = members
}

// recordingMetrics keeps the calls that tests assert on; the rest are
// no-ops.
type recordingMetrics struct {
	mu      sync.Mutex
	removed []domain.ParticipantID
}

var _ ports.Metrics = (*recordingMetrics)(nil)

func (m *recordingMetrics) SessionStarted(domain.CallMode)                      {}
func (m *recordingMetrics) SessionEnded(domain.SessionState, domain.FailReason) {}
func (m *recordingMetrics) NegotiationCompleted(float64, int)                   {}
func (m *recordingMetrics) LinkStateChanged(domain.LinkState)                   {}
func (m *recordingMetrics) ICERestartAttempted()                                {}
func (m *recordingMetrics) QualitySampled(domain.ParticipantID, domain.QualitySample) {
}

func (m *recordingMetrics) LinkRemoved(remote domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, remote)
}

func (m *recordingMetrics) removedRemotes() []domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ParticipantID, len(m.removed))
	copy(out, m.removed)
	return out
}

type callHarness struct {
	manager   *CallManager
	signaling *fakeSignaling
	directory *fixedDirectory
	transport *fakeTransport
	identity  *fakeIdentity
	metrics   *recordingMetrics
}

func newCallHarness(cfg SessionConfig, remotes ...domain.ParticipantID) *callHarness {
	h := &callHarness{
		signaling: &fakeSignaling{},
		directory: &fixedDirectory{},
		transport: &fakeTransport{},
		identity:  &fakeIdentity{ident: ports.Identity{Token: "token-1"}},
		metrics:   &recordingMetrics{},
	}
	h.directory.set(remotes...)
	h.manager = NewCallManager(h.signaling, h.directory, h.identity, h.transport, h.metrics, cfg, zap.NewNop().Sugar())
	return h
}

func testConfig() SessionConfig {
	return SessionConfig{
		NegotiationTimeout: 5 * time.Second,
		EndGrace:           time.Second,
		PublishTimeout:     time.Second,
		ICERestart: retry.Config{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     40 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func waitState(t *testing.T, m *CallManager, state domain.SessionState) domain.SessionSnapshot {
	t.Helper()
	var snap domain.SessionSnapshot
	require.Eventually(t, func() bool {
		s, ok := m.Snapshot()
		if !ok {
			return false
		}
		snap = s
		return s.State == state
	}, 2*time.Second, 2*time.Millisecond, "waiting for session state %s", state)
	return snap
}

func waitSent(t *testing.T, sig *fakeSignaling, kind domain.SignalKind, count int) []domain.SignalingMessage {
	t.Helper()
	var msgs []domain.SignalingMessage
	require.Eventually(t, func() bool {
		msgs = sig.sent(kind)
		return len(msgs) >= count
	}, 2*time.Second, 2*time.Millisecond, "waiting for %d %s messages", count, kind)
	return msgs
}
