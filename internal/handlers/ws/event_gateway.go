package ws

import (
	"net/http"
	"sync"
	"time"

	"callmesh/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// EventGateway pushes call events to render-process subscribers over
// websocket. Events are fanned out to every connected client; a client that
// cannot keep up is dropped rather than allowed to stall the loop.
type EventGateway struct {
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan domain.CallEvent
}

func NewEventGateway(events <-chan domain.CallEvent, logger *zap.SugaredLogger) *EventGateway {
	g := &EventGateway{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The command API is local to the machine; the renderer is the
			// only expected origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	go g.broadcast(events)
	return g
}

func (g *EventGateway) broadcast(events <-chan domain.CallEvent) {
	for event := range events {
		g.mu.Lock()
		for c := range g.clients {
			select {
			case c.send <- event:
			default:
				g.logger.Warnw("event subscriber too slow, dropping connection")
				delete(g.clients, c)
				close(c.send)
			}
		}
		g.mu.Unlock()
	}

	g.mu.Lock()
	for c := range g.clients {
		delete(g.clients, c)
		close(c.send)
	}
	g.mu.Unlock()
}

// Handle upgrades the request and streams events until the client leaves.
func (g *EventGateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan domain.CallEvent, sendBuffer),
	}
	g.mu.Lock()
	g.clients[cl] = struct{}{}
	g.mu.Unlock()

	go g.writePump(cl)
	g.readPump(cl)
}

func (g *EventGateway) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case event, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and unregisters the client when the
// connection drops.
func (g *EventGateway) readPump(cl *client) {
	defer func() {
		g.mu.Lock()
		if _, ok := g.clients[cl]; ok {
			delete(g.clients, cl)
			close(cl.send)
		}
		g.mu.Unlock()
		_ = cl.conn.Close()
	}()

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}
