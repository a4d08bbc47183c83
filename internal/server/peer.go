package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/backplane/internal/hub"
	"github.com/nfrund/backplane/internal/transport"
)

const writeTimeout = 10 * time.Second

// serveBus handles WebSocket connection requests for the bus.
func (s *Server) serveBus(c echo.Context) error {
	name := c.Request().Header.Get(transport.HeaderProcessName)
	sub := hub.NewSubscriber(name, s.sendBuffer)

	// Register before the handshake completes so a peer that has finished
	// dialing is guaranteed to see the next broadcast.
	if !s.hub.Register(sub) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "backplane is shutting down")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Peers are processes, not browsers.
	})
	if err != nil {
		s.hub.Unregister(sub)
		s.logger.Error("Failed to upgrade bus WebSocket", "error", err)
		return nil
	}
	conn.SetReadLimit(s.maxFrameSize)

	p := &peer{
		conn:       conn,
		hub:        s.hub,
		subscriber: sub,
		logger:     s.logger.With("subscriber_id", sub.ID, "process", name),
	}
	go p.writePump()
	go p.readPump()

	return nil
}

// peer is a middleman between one WebSocket connection and the hub.
type peer struct {
	conn       *websocket.Conn
	hub        *hub.Hub
	subscriber *hub.Subscriber
	logger     *slog.Logger
}

// readPump pumps frames from the WebSocket connection to the hub.
func (p *peer) readPump() {
	defer func() {
		p.hub.Unregister(p.subscriber)
		p.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, frame, err := p.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				p.logger.Info("Bus WebSocket closed normally")
			} else {
				p.logger.Debug("Bus readPump stopped", "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if !p.hub.Broadcast(frame) {
			return
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection.
// The hub closes Send when the peer is dropped, which ends the pump.
func (p *peer) writePump() {
	defer func() {
		p.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for frame := range p.subscriber.Send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.conn.Write(ctx, websocket.MessageBinary, frame)
		cancel()
		if err != nil {
			p.logger.Debug("Bus writePump error", "error", err)
			return
		}
	}
}
