package resource

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/resource"
	"fieldsync/internal/utils/logger"
)

// Handler CRUD одной коллекции, например /clients
type Handler struct {
	typ        entity.Type
	service    resource.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(t entity.Type, service resource.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		typ:        t,
		service:    service,
		log:        log.With("component", "resource_handler", slog.String("type", t.String())),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.createOp(), h.create)
	huma.Register(api, h.findOp(), h.find)
	huma.Register(api, h.updateOp(), h.update)
	huma.Register(api, h.deleteOp(), h.delete)
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	items, err := h.service.List(ctx, h.typ, input.filter)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &listOutput{Body: listResponse{Data: items}}, nil
}

func (h *Handler) find(ctx context.Context, input *findInput) (*output, error) {
	e, err := h.service.Get(ctx, h.typ, input.ID)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &output{Body: e}, nil
}

func (h *Handler) create(ctx context.Context, input *createInput) (*output, error) {
	e, err := h.service.Create(ctx, h.typ, input.Body)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &output{Body: e}, nil
}

func (h *Handler) update(ctx context.Context, input *updateInput) (*output, error) {
	e, err := h.service.Update(ctx, h.typ, input.ID, input.Body)
	if err != nil {
		return nil, h.toHTTPError(err)
	}
	return &output{Body: e}, nil
}

func (h *Handler) delete(ctx context.Context, input *findInput) (*struct{}, error) {
	if err := h.service.Delete(ctx, h.typ, input.ID); err != nil {
		return nil, h.toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) toHTTPError(err error) error {
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, resource.ErrInvalidData), errors.Is(err, entity.ErrMissingID):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, resource.ErrVersionConflict):
		return huma.Error409Conflict(err.Error())
	default:
		h.log.Error("request failed", logger.Err(err))
		return huma.Error500InternalServerError("internal error")
	}
}
