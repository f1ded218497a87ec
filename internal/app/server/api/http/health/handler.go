package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger проверка доступности хранилища, nil для хранилища в памяти
type Pinger func(ctx context.Context) error

type Handler struct {
	storage    string
	ping       Pinger
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(storage string, ping Pinger, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		ping:       ping,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			h.log.Warn("storage is unavailable", slog.String("error", err.Error()))
			return nil, huma.Error503ServiceUnavailable("storage is unavailable")
		}
	}

	return &Output{
		Body: Response{
			Status:  "ok",
			Storage: h.storage,
		},
	}, nil
}
