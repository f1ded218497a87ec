package resource

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) operation(id, method, path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: string(h.typ) + "-" + id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{string(h.typ)},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	op := h.operation("list", http.MethodGet, h.typ.BasePath(), "Список записей "+h.typ.DisplayName())
	op.Description = "Параметры запроса фильтруют записи по точному совпадению значения поля."
	return op
}

func (h *Handler) createOp() huma.Operation {
	op := h.operation("create", http.MethodPost, h.typ.BasePath(), "Создать запись "+h.typ.DisplayName())
	op.DefaultStatus = http.StatusCreated
	op.Description = "Сервер назначает id, version = 1 и updatedAt. Служебные поля из тела игнорируются."
	return op
}

func (h *Handler) findOp() huma.Operation {
	return h.operation("find", http.MethodGet, h.typ.BasePath()+"/{id}", "Получить запись "+h.typ.DisplayName())
}

func (h *Handler) updateOp() huma.Operation {
	op := h.operation("update", http.MethodPut, h.typ.BasePath()+"/{id}", "Обновить запись "+h.typ.DisplayName())
	op.Description = "Частичное обновление: поля тела накладываются на запись, version увеличивается на 1."
	return op
}

func (h *Handler) deleteOp() huma.Operation {
	op := h.operation("delete", http.MethodDelete, h.typ.BasePath()+"/{id}", "Удалить запись "+h.typ.DisplayName())
	op.DefaultStatus = http.StatusNoContent
	return op
}
