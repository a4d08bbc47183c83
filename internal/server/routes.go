package server

import (
	"github.com/labstack/echo-contrib/echoprometheus"
)

// RegisterRoutes sets up all the server routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/bus", s.serveBus)
	s.E.GET("/healthz", s.healthz)
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.Registry,
	}))
}
