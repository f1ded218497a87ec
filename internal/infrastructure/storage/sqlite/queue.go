package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

// QueueRepository таблица mutation_queue
type QueueRepository struct {
	db *sql.DB
}

var queueColumns = []string{
	"id", "operation", "entity_type", "entity_id", "payload",
	"enqueued_at", "retry_count", "last_error", "status",
}

func (r *QueueRepository) Add(ctx context.Context, item *queue.Item) (int64, error) {
	payload, err := encodePayload(item.Payload)
	if err != nil {
		return 0, err
	}

	query, args, err := builder.
		Insert("mutation_queue").
		Columns("operation", "entity_type", "entity_id", "payload", "enqueued_at", "retry_count", "last_error", "status").
		Values(string(item.Operation), string(item.EntityType), item.EntityID, payload,
			item.EnqueuedAt.UnixNano(), item.RetryCount, item.LastError, string(item.Status)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue item id: %w", err)
	}
	item.ID = id

	return id, nil
}

func (r *QueueRepository) Get(ctx context.Context, id int64) (*queue.Item, error) {
	items, err := r.selectItems(ctx, builder.Select(queueColumns...).From("mutation_queue").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %d", queue.ErrItemNotFound, id)
	}
	return items[0], nil
}

func (r *QueueRepository) ListByStatus(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error) {
	qb := builder.Select(queueColumns...).From("mutation_queue")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		qb = qb.Where(sq.Eq{"status": values})
	}
	return r.selectItems(ctx, qb.OrderBy("enqueued_at", "id"))
}

func (r *QueueRepository) Update(ctx context.Context, item *queue.Item) error {
	payload, err := encodePayload(item.Payload)
	if err != nil {
		return err
	}

	query, args, err := builder.
		Update("mutation_queue").
		SetMap(map[string]any{
			"operation":   string(item.Operation),
			"entity_id":   item.EntityID,
			"payload":     payload,
			"retry_count": item.RetryCount,
			"last_error":  item.LastError,
			"status":      string(item.Status),
		}).
		Where(sq.Eq{"id": item.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item %d: %w", item.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", queue.ErrItemNotFound, item.ID)
	}
	return nil
}

func (r *QueueRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, builder.Delete("mutation_queue").Where(sq.Eq{"id": id}))
	return err
}

func (r *QueueRepository) DeleteByEntity(ctx context.Context, t entity.Type, entityID string) (int, error) {
	return r.exec(ctx, builder.Delete("mutation_queue").
		Where(sq.Eq{"entity_type": string(t), "entity_id": entityID}))
}

func (r *QueueRepository) FindLatestByEntity(ctx context.Context, t entity.Type, entityID string) (*queue.Item, error) {
	items, err := r.selectItems(ctx, builder.
		Select(queueColumns...).
		From("mutation_queue").
		Where(sq.Eq{"entity_type": string(t), "entity_id": entityID}).
		OrderBy("enqueued_at DESC", "id DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", queue.ErrItemNotFound, t, entityID)
	}
	return items[0], nil
}

func (r *QueueRepository) CountByEntity(ctx context.Context, t entity.Type, entityID string) (int, error) {
	query, args, err := builder.
		Select("COUNT(*)").
		From("mutation_queue").
		Where(sq.Eq{"entity_type": string(t), "entity_id": entityID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context) (queue.Counts, error) {
	query, args, err := builder.
		Select("status", "COUNT(*)").
		From("mutation_queue").
		GroupBy("status").
		ToSql()
	if err != nil {
		return queue.Counts{}, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	var c queue.Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return queue.Counts{}, fmt.Errorf("scan queue count: %w", err)
		}
		switch queue.Status(status) {
		case queue.StatusPending:
			c.Pending = n
		case queue.StatusSyncing:
			c.Syncing = n
		case queue.StatusFailed:
			c.Failed = n
		}
	}

	return c, rows.Err()
}

func (r *QueueRepository) ResetFailed(ctx context.Context) (int, error) {
	return r.exec(ctx, builder.
		Update("mutation_queue").
		Set("status", string(queue.StatusPending)).
		Set("retry_count", 0).
		Where(sq.Eq{"status": string(queue.StatusFailed)}))
}

func (r *QueueRepository) RewriteEntityID(ctx context.Context, t entity.Type, oldID, newID string) (int, error) {
	return r.exec(ctx, builder.
		Update("mutation_queue").
		Set("entity_id", newID).
		Where(sq.Eq{"entity_type": string(t), "entity_id": oldID}))
}

func (r *QueueRepository) ReplaceReferences(ctx context.Context, oldID, newID string) (int, error) {
	from, to, err := quotedPair(oldID, newID)
	if err != nil {
		return 0, err
	}
	return r.exec(ctx, builder.
		Update("mutation_queue").
		Set("payload", sq.Expr("REPLACE(payload, ?, ?)", from, to)).
		Where(sq.Expr("instr(payload, ?) > 0", from)))
}

func (r *QueueRepository) exec(ctx context.Context, qb sq.Sqlizer) (int, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec queue statement: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *QueueRepository) selectItems(ctx context.Context, qb sq.SelectBuilder) ([]*queue.Item, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*queue.Item, 0)
	for rows.Next() {
		var (
			item       queue.Item
			operation  string
			entityType string
			status     string
			payload    sql.NullString
			enqueuedAt int64
		)
		if err := rows.Scan(&item.ID, &operation, &entityType, &item.EntityID, &payload,
			&enqueuedAt, &item.RetryCount, &item.LastError, &status); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}

		item.Operation = queue.Operation(operation)
		item.EntityType = entity.Type(entityType)
		item.Status = queue.Status(status)
		item.EnqueuedAt = time.Unix(0, enqueuedAt)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &item.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of item %d: %w", item.ID, err)
			}
		}

		items = append(items, &item)
	}

	return items, rows.Err()
}

func encodePayload(p entity.Entity) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}
