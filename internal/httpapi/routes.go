package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vbscore/backend/internal/registry"
	"github.com/vbscore/backend/internal/ws"
)

type RouterOptions struct {
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

func SetupRoutes(reg *registry.Registry, log *zap.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.With(RateLimit(opts.CreateRateLimit, opts.CreateRateWindow)).
		Post("/matches", CreateMatch(reg, log))
	r.Get("/matches", ListMatches(reg))
	r.Get("/archive", DecodeArchive(log))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(reg, log))
	return r
}
