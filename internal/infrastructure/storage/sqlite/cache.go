package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"

	"fieldsync/internal/domain/cache"
	"fieldsync/internal/domain/entity"
)

// CacheRepository таблица entity_cache; запись хранится целиком в JSON,
// вторичные выборки идут через json_extract
type CacheRepository struct {
	db *sql.DB
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *CacheRepository) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	query, args, err := builder.
		Select("data").
		From("entity_cache").
		Where(sq.Eq{"entity_type": string(t), "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var raw string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", entity.ErrNotFound, t, id)
		}
		return nil, fmt.Errorf("get cached %s/%s: %w", t, id, err)
	}

	return decodeEntity(raw)
}

func (r *CacheRepository) List(ctx context.Context, t entity.Type, f cache.Filter) ([]entity.Entity, error) {
	qb := builder.
		Select("data").
		From("entity_cache").
		Where(sq.Eq{"entity_type": string(t)})

	for field, value := range f.Where {
		if !fieldName.MatchString(field) {
			return nil, fmt.Errorf("invalid filter field %q", field)
		}
		if b, ok := value.(bool); ok {
			value = 0
			if b {
				value = 1
			}
		}
		qb = qb.Where(sq.Expr("json_extract(data, ?) = ?", "$."+field, value))
	}
	if f.Unconfirmed {
		qb = qb.Where(sq.Eq{"synced_at": entity.SyncedAtUnconfirmed})
	}
	if f.SyncedBefore > 0 {
		qb = qb.Where(sq.Lt{"synced_at": f.SyncedBefore})
	}

	switch {
	case f.OrderBy == "":
		qb = qb.OrderBy("id")
	case fieldName.MatchString(f.OrderBy):
		qb = qb.OrderByClause("json_extract(data, ?)", "$."+f.OrderBy).OrderBy("id")
	default:
		return nil, fmt.Errorf("invalid order field %q", f.OrderBy)
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cached %s: %w", t, err)
	}
	defer rows.Close()

	out := make([]entity.Entity, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan cached %s: %w", t, err)
		}
		e, err := decodeEntity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (r *CacheRepository) Put(ctx context.Context, t entity.Type, e entity.Entity) error {
	return r.BulkPut(ctx, t, []entity.Entity{e})
}

func (r *CacheRepository) BulkPut(ctx context.Context, t entity.Type, es []entity.Entity) error {
	if len(es) == 0 {
		return nil
	}

	qb := builder.
		Insert("entity_cache").
		Columns("entity_type", "id", "data", "version", "synced_at")

	for _, e := range es {
		if e.ID() == "" {
			return fmt.Errorf("%w: cache %s", entity.ErrMissingID, t)
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", t, e.ID(), err)
		}
		qb = qb.Values(string(t), e.ID(), string(raw), e.Version(), e.SyncedAt())
	}

	query, args, err := qb.
		Suffix("ON CONFLICT(entity_type, id) DO UPDATE SET data = excluded.data, version = excluded.version, synced_at = excluded.synced_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("put cached %s: %w", t, err)
	}
	return nil
}

func (r *CacheRepository) Delete(ctx context.Context, t entity.Type, id string) error {
	query, args, err := builder.
		Delete("entity_cache").
		Where(sq.Eq{"entity_type": string(t), "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete cached %s/%s: %w", t, id, err)
	}
	return nil
}

// ReplaceReferences заменяет JSON-строку "oldID" на "newID" в данных всех записей
func (r *CacheRepository) ReplaceReferences(ctx context.Context, oldID, newID string) (int, error) {
	from, to, err := quotedPair(oldID, newID)
	if err != nil {
		return 0, err
	}

	query, args, err := builder.
		Update("entity_cache").
		Set("data", sq.Expr("REPLACE(data, ?, ?)", from, to)).
		Where(sq.Expr("instr(data, ?) > 0", from)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("replace cache references to %s: %w", oldID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func decodeEntity(raw string) (entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode cached entity: %w", err)
	}
	return e, nil
}

func quotedPair(oldID, newID string) (string, string, error) {
	from, err := json.Marshal(oldID)
	if err != nil {
		return "", "", err
	}
	to, err := json.Marshal(newID)
	if err != nil {
		return "", "", err
	}
	return string(from), string(to), nil
}
