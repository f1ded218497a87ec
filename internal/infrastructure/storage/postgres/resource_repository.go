package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/resource"
	"fieldsync/internal/utils/logger"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type ResourceRepository struct {
	db  Querier
	log *slog.Logger
}

func NewResourceRepository(db Querier, log *slog.Logger) *ResourceRepository {
	return &ResourceRepository{
		db:  db,
		log: log.With("component", "resource_repository"),
	}
}

func (r *ResourceRepository) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	const query = `SELECT data FROM resources WHERE entity_type = $1 AND id = $2`

	var raw []byte
	err := r.db.QueryRow(ctx, query, string(t), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, id)
		}
		r.log.Error("failed to get resource", slog.String("type", t.String()), slog.String("id", id), logger.Err(err))
		return nil, fmt.Errorf("get resource: %w", err)
	}

	return decode(raw)
}

func (r *ResourceRepository) List(ctx context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error) {
	q := psql.Select("data").
		From("resources").
		Where(sq.Eq{"entity_type": string(t)}).
		OrderBy("created_at", "id")

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q = q.Where(sq.Expr("data ->> ? = ?", k, filter[k]))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list resources", slog.String("type", t.String()), logger.Err(err))
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	out := make([]entity.Entity, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		e, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}

	return out, nil
}

func (r *ResourceRepository) Insert(ctx context.Context, t entity.Type, e entity.Entity) error {
	const query = `
		INSERT INTO resources (entity_type, id, version, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", resource.ErrInvalidData, err)
	}

	_, err = r.db.Exec(ctx, query, string(t), e.ID(), e.Version(), string(raw), updatedAt(e))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: duplicate id %s", resource.ErrInvalidData, e.ID())
		}
		r.log.Error("failed to insert resource", slog.String("type", t.String()), logger.Err(err))
		return fmt.Errorf("insert resource: %w", err)
	}

	return nil
}

func (r *ResourceRepository) Replace(ctx context.Context, t entity.Type, e entity.Entity, prevVersion int64) error {
	const query = `
		UPDATE resources
		SET version = $1, data = $2, updated_at = $3
		WHERE entity_type = $4 AND id = $5 AND version = $6`

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", resource.ErrInvalidData, err)
	}

	result, err := r.db.Exec(ctx, query, e.Version(), string(raw), updatedAt(e), string(t), e.ID(), prevVersion)
	if err != nil {
		r.log.Error("failed to update resource", slog.String("type", t.String()), slog.String("id", e.ID()), logger.Err(err))
		return fmt.Errorf("update resource: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var current int64
	err = r.db.QueryRow(ctx, `SELECT version FROM resources WHERE entity_type = $1 AND id = $2`, string(t), e.ID()).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, e.ID())
	}
	if err != nil {
		return fmt.Errorf("check resource version: %w", err)
	}
	return resource.ErrVersionConflict
}

func (r *ResourceRepository) Delete(ctx context.Context, t entity.Type, id string) error {
	const query = `DELETE FROM resources WHERE entity_type = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, string(t), id)
	if err != nil {
		r.log.Error("failed to delete resource", slog.String("type", t.String()), slog.String("id", id), logger.Err(err))
		return fmt.Errorf("delete resource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, id)
	}

	return nil
}

func decode(raw []byte) (entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return e, nil
}

func updatedAt(e entity.Entity) time.Time {
	if ts, ok := e.UpdatedAt(); ok {
		return ts
	}
	return time.Now()
}
