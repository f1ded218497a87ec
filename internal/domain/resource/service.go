package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/utils/logger"
)

// updateAttempts сколько раз Update перечитывает запись, если ее версия
// изменилась между чтением и записью
const updateAttempts = 3

type Servicer interface {
	Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error)
	List(ctx context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error)
	Create(ctx context.Context, t entity.Type, data entity.Entity) (entity.Entity, error)
	Update(ctx context.Context, t entity.Type, id string, partial entity.Entity) (entity.Entity, error)
	Delete(ctx context.Context, t entity.Type, id string) error
}

// Service CRUD записей сервера. Сервер назначает id, ведет version и
// updatedAt, конфликты не разрешает.
type Service struct {
	repo  Repository
	log   *slog.Logger
	now   func() time.Time
	newID func() string
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		log:   log.With("component", "resource_service"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *Service) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	if err := validate(t, id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, t, id)
}

func (s *Service) List(ctx context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	items, err := s.repo.List(ctx, t, filter)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	return items, nil
}

func (s *Service) Create(ctx context.Context, t entity.Type, data entity.Entity) (entity.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidData)
	}

	now := s.now()
	e := data.WithoutTechnical().
		SetID(s.newID()).
		SetVersion(1).
		SetUpdatedAt(now)
	e[entity.FieldCreatedAt] = entity.FormatTimestamp(now)

	if err := s.repo.Insert(ctx, t, e); err != nil {
		s.log.Error("failed to create resource", slog.String("type", t.String()), logger.Err(err))
		return nil, fmt.Errorf("create %s: %w", t, err)
	}

	s.log.Debug("resource created", slog.String("type", t.String()), slog.String("id", e.ID()))
	return e, nil
}

// Update накладывает partial на текущую запись и увеличивает version.
// Служебные поля из partial игнорируются.
func (s *Service) Update(ctx context.Context, t entity.Type, id string, partial entity.Entity) (entity.Entity, error) {
	if err := validate(t, id); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		current, err := s.repo.Get(ctx, t, id)
		if err != nil {
			return nil, err
		}

		prev := current.Version()
		next := current.Merge(partial.WithoutTechnical()).
			SetVersion(prev + 1).
			SetUpdatedAt(s.now())

		err = s.repo.Replace(ctx, t, next, prev)
		if err == nil {
			s.log.Debug("resource updated",
				slog.String("type", t.String()),
				slog.String("id", id),
				slog.Int64("version", prev+1),
			)
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt == updateAttempts {
			return nil, fmt.Errorf("update %s/%s: %w", t, id, err)
		}
	}
}

func (s *Service) Delete(ctx context.Context, t entity.Type, id string) error {
	if err := validate(t, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, t, id); err != nil {
		return err
	}
	s.log.Debug("resource deleted", slog.String("type", t.String()), slog.String("id", id))
	return nil
}

func validate(t entity.Type, id string) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", entity.ErrUnknownType, t)
	}
	if id == "" {
		return entity.ErrMissingID
	}
	return nil
}
