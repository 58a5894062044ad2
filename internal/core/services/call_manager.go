package services

import (
	"context"
	"fmt"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallManager is the process-wide call registry. It enforces the local
// one-call-at-a-time invariant: at most one non-terminal session exists,
// regardless of channel. The UI must end the current call before starting
// another.
type CallManager struct {
	signaling ports.SignalingAdapter
	directory ports.MembershipDirectory
	identity  ports.IdentityProvider
	transport ports.MediaTransport
	metrics   ports.Metrics
	cfg       SessionConfig
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	session *callSession

	events chan domain.CallEvent
}

func NewCallManager(
	signaling ports.SignalingAdapter,
	directory ports.MembershipDirectory,
	identity ports.IdentityProvider,
	transport ports.MediaTransport,
	metrics ports.Metrics,
	cfg SessionConfig,
	logger *zap.SugaredLogger,
) *CallManager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &CallManager{
		signaling: signaling,
		directory: directory,
		identity:  identity,
		transport: transport,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		events:    make(chan domain.CallEvent, 256),
	}
}

var _ ports.CallManager = (*CallManager)(nil)

func (m *CallManager) Start(ctx context.Context, channel domain.ChannelID, local domain.ParticipantID, mode domain.CallMode) (domain.SessionSnapshot, error) {
	if channel == "" || local == "" || !mode.Valid() {
		return domain.SessionSnapshot{}, domain.ErrInvalidArgument
	}

	ident, err := m.identity.Identity(ctx)
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("resolve identity: %w", err)
	}
	if ident.Participant != "" && ident.Participant != local {
		return domain.SessionSnapshot{}, domain.ErrInvalidArgument
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.terminated() {
		return domain.SessionSnapshot{}, domain.ErrAlreadyInCall
	}

	session := newCallSession(
		domain.SessionID(uuid.NewString()),
		channel, local, ident.Token, mode,
		sessionDeps{
			signaling: m.signaling,
			directory: m.directory,
			transport: m.transport,
			metrics:   m.metrics,
			logger:    m.logger,
			emit:      m.emit,
			cfg:       m.cfg,
		},
	)
	m.session = session
	m.metrics.SessionStarted(mode)
	m.logger.Infow("call session starting",
		"session", session.id, "channel", channel, "local", local, "mode", mode)

	session.begin()
	return session.snapshot(), nil
}

// End tears down the current session, if any. Idempotent and never an
// error; resources are released best-effort even when some fail.
func (m *CallManager) End(ctx context.Context) {
	session := m.active()
	if session == nil {
		return
	}
	session.end()
}

func (m *CallManager) SwitchMode(ctx context.Context, mode domain.CallMode) error {
	if !mode.Valid() {
		return domain.ErrInvalidArgument
	}
	session := m.active()
	if session == nil || session.terminated() {
		return domain.ErrNoActiveCall
	}
	return session.do(ctx, func() error { return session.switchMode(mode) })
}

func (m *CallManager) SetMuted(ctx context.Context, muted bool) error {
	session := m.active()
	if session == nil || session.terminated() {
		return domain.ErrNoActiveCall
	}
	return session.do(ctx, func() error { return session.setMuted(muted) })
}

func (m *CallManager) SetPictureInPicture(on bool) error {
	session := m.active()
	if session == nil || session.terminated() {
		return domain.ErrNoActiveCall
	}
	return session.do(context.Background(), func() error { return session.setPictureInPicture(on) })
}

func (m *CallManager) Snapshot() (domain.SessionSnapshot, bool) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return domain.SessionSnapshot{}, false
	}
	return session.snapshot(), true
}

func (m *CallManager) Events() <-chan domain.CallEvent {
	return m.events
}

func (m *CallManager) active() *callSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// emit never blocks the session loop; a slow or absent UI consumer drops
// events rather than stalling call control.
func (m *CallManager) emit(event domain.CallEvent) {
	select {
	case m.events <- event:
	default:
		m.logger.Debugw("event buffer full, dropping", "kind", event.Kind)
	}
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted(domain.CallMode)                          {}
func (noopMetrics) SessionEnded(domain.SessionState, domain.FailReason)     {}
func (noopMetrics) NegotiationCompleted(float64, int)                       {}
func (noopMetrics) LinkStateChanged(domain.LinkState)                       {}
func (noopMetrics) LinkRemoved(domain.ParticipantID)                        {}
func (noopMetrics) ICERestartAttempted()                                    {}
func (noopMetrics) QualitySampled(domain.ParticipantID, domain.QualitySample) {}
