package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Lease кооперативная блокировка синхронизации между процессами,
// разделяющими один файл базы. Истекшая аренда может быть перехвачена.
type Lease struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

func (l *Lease) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Acquire берет аренду или продлевает свою
func (l *Lease) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := l.clock()

	query, args, err := builder.
		Insert("sync_lease").
		Columns("name", "owner", "expires_at").
		Values(l.name, owner, now.Add(ttl).UnixMilli()).
		Suffix(
			"ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at "+
				"WHERE sync_lease.expires_at < ? OR sync_lease.owner = excluded.owner",
			now.UnixMilli(),
		).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return n > 0, nil
}

// Release снимает аренду, только если ею владеет owner
func (l *Lease) Release(ctx context.Context, owner string) error {
	query, args, err := builder.
		Delete("sync_lease").
		Where(sq.Eq{"name": l.name, "owner": owner}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	return nil
}
