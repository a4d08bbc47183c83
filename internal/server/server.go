// Package server runs the network backplane: every binary websocket frame a
// peer sends on /bus is broadcast to all connected peers, the sender included.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nfrund/backplane/internal/hub"
	"github.com/nfrund/backplane/internal/transport"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E        *echo.Echo
	Registry *prometheus.Registry

	hub     *hub.Hub
	stopHub context.CancelFunc

	sendBuffer   int
	maxFrameSize int64
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSendBuffer sets how many frames a peer may fall behind before it is disconnected.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithMaxFrameSize limits the size of frames accepted from peers.
func WithMaxFrameSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameSize = n
		}
	}
}

// New creates a new Server and starts its hub. Call Close, or Run, to stop it.
func New(opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hubCtx, stopHub := context.WithCancel(context.Background())
	h := hub.NewHub(hub.NewMetrics(reg))
	go h.Run(hubCtx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "backplane",
		Registerer: reg,
	}))
	setupErrorHandling(e)

	s := &Server{
		E:            e,
		Registry:     reg,
		hub:          h,
		stopHub:      stopHub,
		sendBuffer:   hub.DefaultSendBuffer,
		maxFrameSize: transport.DefaultMaxFrameSize,
		logger:       slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.RegisterRoutes()
	return s
}

// Close stops the hub, which disconnects every peer.
func (s *Server) Close() {
	s.stopHub()
	<-s.hub.Done()
}

// setupErrorHandling logs unhandled errors with a stack trace before
// handing them to echo's default handler.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if _, ok := err.(*echo.HTTPError); !ok {
			slog.Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
