package resource

import (
	"github.com/danielgtaylor/huma/v2"

	"fieldsync/internal/domain/entity"
)

type listInput struct {
	// filter все параметры запроса, сравниваются со строковыми значениями полей
	filter map[string]string
}

func (i *listInput) Resolve(ctx huma.Context) []error {
	u := ctx.URL()
	query := u.Query()
	if len(query) == 0 {
		return nil
	}
	i.filter = make(map[string]string, len(query))
	for k := range query {
		i.filter[k] = query.Get(k)
	}
	return nil
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	Data []entity.Entity `json:"data" doc:"Записи коллекции"`
}

type findInput struct {
	ID string `path:"id" example:"8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60" doc:"ID записи"`
}

type createInput struct {
	Body entity.Entity
}

type updateInput struct {
	ID   string `path:"id" example:"8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60" doc:"ID записи"`
	Body entity.Entity
}

type output struct {
	Body entity.Entity
}
