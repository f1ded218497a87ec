package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
)

// ConflictRepository живой список конфликтов и история разрешений.
// Один конфликт - одна строка.
type ConflictRepository struct {
	db *sql.DB
}

func (r *ConflictRepository) LoadConflicts(ctx context.Context) ([]conflict.SyncConflict, error) {
	query, args, err := builder.Select("data").From("sync_conflicts").OrderBy("seq").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}
	defer rows.Close()

	out := make([]conflict.SyncConflict, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		var c conflict.SyncConflict
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode conflict: %w", err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

func (r *ConflictRepository) InsertConflict(ctx context.Context, c conflict.SyncConflict) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("encode conflict %s: %w", c.ID, err)
	}

	query, args, err := builder.
		Insert("sync_conflicts").
		Columns("id", "data").
		Values(c.ID, string(raw)).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert conflict %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ConflictRepository) DeleteConflict(ctx context.Context, id string) (bool, error) {
	n, err := deleteConflict(ctx, r.db, id)
	return n > 0, err
}

func (r *ConflictRepository) DeleteAllConflicts(ctx context.Context) error {
	query, args, err := builder.Delete("sync_conflicts").ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear conflicts: %w", err)
	}
	return nil
}

func (r *ConflictRepository) ResolveConflict(ctx context.Context, id string, result conflict.ResolutionResult, historyLimit int) (resolved bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil || !resolved {
			_ = tx.Rollback()
		}
	}()

	n, err := deleteConflict(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	merged, err := encodePayload(result.MergedData)
	if err != nil {
		return false, err
	}
	query, args, err := builder.
		Insert("conflict_history").
		Columns("conflict_id", "resolution", "merged_data", "resolved_at").
		Values(result.ConflictID, string(result.Resolution), merged, result.Timestamp.UnixMilli()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("insert resolution %s: %w", id, err)
	}

	query, args, err = builder.
		Delete("conflict_history").
		Where("seq NOT IN (SELECT seq FROM conflict_history ORDER BY seq DESC LIMIT ?)", historyLimit).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("trim conflict history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit resolution %s: %w", id, err)
	}
	return true, nil
}

func (r *ConflictRepository) LoadHistory(ctx context.Context) ([]conflict.ResolutionResult, error) {
	query, args, err := builder.
		Select("conflict_id", "resolution", "merged_data", "resolved_at").
		From("conflict_history").
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load conflict history: %w", err)
	}
	defer rows.Close()

	out := make([]conflict.ResolutionResult, 0)
	for rows.Next() {
		var (
			res        conflict.ResolutionResult
			resolution string
			merged     sql.NullString
			resolvedAt int64
		)
		if err := rows.Scan(&res.ConflictID, &resolution, &merged, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		res.Resolution = conflict.Resolution(resolution)
		res.Timestamp = time.UnixMilli(resolvedAt)
		if merged.Valid && merged.String != "" {
			var data entity.Entity
			if err := json.Unmarshal([]byte(merged.String), &data); err != nil {
				return nil, fmt.Errorf("decode merged data: %w", err)
			}
			res.MergedData = data
		}
		out = append(out, res)
	}

	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteConflict(ctx context.Context, db execer, id string) (int64, error) {
	query, args, err := builder.Delete("sync_conflicts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete conflict %s: %w", id, err)
	}
	return res.RowsAffected()
}
