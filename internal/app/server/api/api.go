// GET    /health             # Проверка доступности (публичный)
// GET    /{type}             # Список записей, фильтр по параметрам запроса
// POST   /{type}             # Создать запись
// GET    /{type}/{id}        # Получить запись
// PUT    /{type}/{id}        # Частично обновить запись
// DELETE /{type}/{id}        # Удалить запись
//
// {type} одно из clients, chantiers, interventions, devis, factures

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	healthAPI "fieldsync/internal/app/server/api/http/health"
	"fieldsync/internal/app/server/api/http/middleware/auth"
	"fieldsync/internal/app/server/api/http/middleware/logger"
	resourceAPI "fieldsync/internal/app/server/api/http/resource"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/resource"
)

type Options struct {
	// Storage название хранилища для /health
	Storage string
	Ping    healthAPI.Pinger
	// TokenHash bcrypt-хеш токена, пустой отключает авторизацию
	TokenHash string
}

// New создает *chi.Mux с операциями всех коллекций через huma.Register
func New(service resource.Servicer, opts Options, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	NewAPI(mux, service, opts, log)
	return mux
}

// NewAPI регистрирует операции на переданном роутере
func NewAPI(mux *chi.Mux, service resource.Servicer, opts Options, log *slog.Logger) huma.API {
	config := huma.DefaultConfig("Fieldsync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)
	Register(API, service, opts, log)
	return API
}

// Register подключает health и CRUD всех типов записей к API
func Register(API huma.API, service resource.Servicer, opts Options, log *slog.Logger) {
	loggerMW := logger.New(log)

	healthAPI.NewHandler(opts.Storage, opts.Ping, log, huma.Middlewares{loggerMW.Middleware()}).
		SetupRoutes(API)

	mws := huma.Middlewares{loggerMW.Middleware()}
	if opts.TokenHash != "" {
		mws = append(mws, auth.New(opts.TokenHash, log).Middleware(API))
	}

	for _, t := range entity.Types() {
		resourceAPI.NewHandler(t, service, log, mws).SetupRoutes(API)
	}
}
