package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// gateway wire ops
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPublish     = "publish"
	opMessage     = "message"
	opError       = "error"
)

// closeCodeAuthExpired is the application close code the chat gateway uses
// when the bearer token stops validating mid-connection.
const closeCodeAuthExpired = 4401

// gatewayFrame is the envelope exchanged with the chat transport gateway.
type gatewayFrame struct {
	Op      string                   `json:"op"`
	Channel domain.ChannelID         `json:"channel,omitempty"`
	Code    string                   `json:"code,omitempty"`
	Message *domain.SignalingMessage `json:"message,omitempty"`
}

// GatewayAdapter rides signaling on a single websocket connection to the
// external chat transport. The gateway fans published messages out to all
// current subscribers of the channel.
type GatewayAdapter struct {
	url          string
	token        string
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	mu          sync.Mutex
	conn        *websocket.Conn
	subs        map[domain.ChannelID]chan domain.SignalingMessage
	authExpired bool
	closed      bool
}

type GatewayConfig struct {
	URL          string
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// DialGateway connects and authenticates to the chat gateway. The token is
// the opaque credential from the identity provider; it is sent as a bearer
// header and attached to every published message by the caller.
func DialGateway(ctx context.Context, cfg GatewayConfig, token string, logger *zap.SugaredLogger) (*GatewayAdapter, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("gateway dial: %w", domain.ErrAuthExpired)
		}
		return nil, fmt.Errorf("gateway dial: %w", domain.ErrSignalingUnavailable)
	}

	a := &GatewayAdapter{
		url:          cfg.URL,
		token:        token,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		conn:         conn,
		subs:         make(map[domain.ChannelID]chan domain.SignalingMessage),
	}
	go a.readPump()
	go a.pingLoop()
	return a, nil
}

var _ ports.SignalingAdapter = (*GatewayAdapter)(nil)

func (a *GatewayAdapter) Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("subscribe %s: %w", channel, domain.ErrSignalingUnavailable)
	}
	if _, ok := a.subs[channel]; ok {
		return nil, fmt.Errorf("subscribe %s: already subscribed", channel)
	}

	if err := a.writeFrame(gatewayFrame{Op: opSubscribe, Channel: channel}); err != nil {
		return nil, err
	}
	ch := make(chan domain.SignalingMessage, 64)
	a.subs[channel] = ch
	return ch, nil
}

func (a *GatewayAdapter) Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authExpired {
		return fmt.Errorf("publish %s: %w", channel, domain.ErrAuthExpired)
	}
	if a.closed {
		return fmt.Errorf("publish %s: %w", channel, domain.ErrSignalingUnavailable)
	}
	return a.writeFrame(gatewayFrame{Op: opPublish, Channel: channel, Message: &msg})
}

func (a *GatewayAdapter) Unsubscribe(channel domain.ChannelID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.subs[channel]
	if !ok {
		return nil
	}
	delete(a.subs, channel)
	close(ch)
	if a.closed {
		return nil
	}
	return a.writeFrame(gatewayFrame{Op: opUnsubscribe, Channel: channel})
}

// Close drops the gateway connection and every subscription stream.
func (a *GatewayAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

// writeFrame requires a.mu held.
func (a *GatewayAdapter) writeFrame(frame gatewayFrame) error {
	a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	if err := a.conn.WriteJSON(frame); err != nil {
		a.logger.Warnw("gateway write failed", "op", frame.Op, "error", err)
		_ = a.closeLocked()
		return fmt.Errorf("gateway write: %w", domain.ErrSignalingUnavailable)
	}
	return nil
}

func (a *GatewayAdapter) readPump() {
	for {
		var frame gatewayFrame
		if err := a.conn.ReadJSON(&frame); err != nil {
			a.mu.Lock()
			if websocket.IsCloseError(err, closeCodeAuthExpired) {
				a.authExpired = true
			}
			if !a.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				a.logger.Warnw("gateway connection lost", "error", err)
			}
			_ = a.closeLocked()
			a.mu.Unlock()
			return
		}

		switch frame.Op {
		case opMessage:
			if frame.Message == nil {
				continue
			}
			a.mu.Lock()
			ch, ok := a.subs[frame.Channel]
			a.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case ch <- *frame.Message:
			default:
				a.logger.Warnw("subscriber backlog full, dropping signaling message",
					"channel", frame.Channel, "kind", frame.Message.Kind)
			}
		case opError:
			if frame.Code == "auth_expired" {
				a.mu.Lock()
				a.authExpired = true
				a.mu.Unlock()
			}
			a.logger.Warnw("gateway error frame", "code", frame.Code, "channel", frame.Channel)
		}
	}
}

func (a *GatewayAdapter) pingLoop() {
	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
		err := a.conn.WriteMessage(websocket.PingMessage, nil)
		a.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// closeLocked requires a.mu held.
func (a *GatewayAdapter) closeLocked() error {
	if a.closed {
		return nil
	}
	a.closed = true
	for channel, ch := range a.subs {
		delete(a.subs, channel)
		close(ch)
	}
	return a.conn.Close()
}
