package server

import (
	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/server/handlers"
	servermw "github.com/pcroast/pcroast/internal/server/middleware"
)

// registerRoutes mounts one POST route per gate. All gates share the limiter,
// so a caller's quota is spent across gates, not per gate.
func (s *Server) registerRoutes() {
	for _, gate := range ailink.GateNames {
		gateHandler := &handlers.GateHandler{
			Gate:         gate,
			Generator:    s.opts.Generators[gate],
			Prompt:       s.opts.Prompt,
			Audit:        s.opts.Audit,
			Messages:     s.opts.Messages,
			MaxBodyBytes: s.cfg.MaxBodyBytes,
		}
		limit := servermw.RateLimit(s.opts.Limiter, handlers.RateLimited(gate, s.opts.Messages.RateLimited))

		s.router.With(limit).Post("/"+gate, gateHandler.ServeHTTP)
	}
}
