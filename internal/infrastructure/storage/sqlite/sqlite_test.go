package sqlite

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/cache"
	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(filepath.Join(t.TempDir(), "fieldsync.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := New(path, log)
	require.NoError(t, err)
	require.NoError(t, s.Cache().Put(ctx, entity.TypeClient, entity.Entity{"id": "1", "nom": "Dupont"}))
	require.NoError(t, s.Close())

	s, err = New(path, log)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Cache().Get(ctx, entity.TypeClient, "1")
	require.NoError(t, err)
	assert.Equal(t, "Dupont", got.String("nom"))
}

func TestCacheRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Cache()

	_, err := repo.Get(ctx, entity.TypeClient, "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	err = repo.BulkPut(ctx, entity.TypeChantier, []entity.Entity{
		{"id": "ch-1", "nom": "Parc", "clientId": "c-1", "actif": true, "version": 2, "syncedAt": 1000},
		{"id": "ch-2", "nom": "Allee", "clientId": "c-1", "actif": false, "version": 1, "syncedAt": 0},
		{"id": "ch-3", "nom": "Bosquet", "clientId": "c-2", "actif": true, "version": 1, "syncedAt": 5000},
	})
	require.NoError(t, err)

	all, err := repo.List(ctx, entity.TypeChantier, cache.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byClient, err := repo.List(ctx, entity.TypeChantier, cache.Filter{Where: map[string]any{"clientId": "c-1"}, OrderBy: "nom"})
	require.NoError(t, err)
	require.Len(t, byClient, 2)
	assert.Equal(t, "ch-2", byClient[0].ID())
	assert.Equal(t, "ch-1", byClient[1].ID())

	active, err := repo.List(ctx, entity.TypeChantier, cache.Filter{Where: map[string]any{"actif": true}})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	unconfirmed, err := repo.List(ctx, entity.TypeChantier, cache.Filter{Unconfirmed: true})
	require.NoError(t, err)
	require.Len(t, unconfirmed, 1)
	assert.Equal(t, "ch-2", unconfirmed[0].ID())

	stale, err := repo.List(ctx, entity.TypeChantier, cache.Filter{SyncedBefore: 2000, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	_, err = repo.List(ctx, entity.TypeChantier, cache.Filter{Where: map[string]any{"x') OR 1=1 --": 1}})
	assert.Error(t, err)

	require.NoError(t, repo.Put(ctx, entity.TypeChantier, entity.Entity{"id": "ch-1", "nom": "Parc Est", "version": 3}))
	got, err := repo.Get(ctx, entity.TypeChantier, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "Parc Est", got.String("nom"))
	assert.Equal(t, int64(3), got.Version())

	require.NoError(t, repo.Delete(ctx, entity.TypeChantier, "ch-1"))
	_, err = repo.Get(ctx, entity.TypeChantier, "ch-1")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	assert.ErrorIs(t, repo.Put(ctx, entity.TypeChantier, entity.Entity{"nom": "no id"}), entity.ErrMissingID)
}

func TestCacheRepository_ReplaceReferences(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Cache()

	require.NoError(t, repo.Put(ctx, entity.TypeIntervention, entity.Entity{"id": "int-1", "chantierId": "temp-1-abc"}))
	require.NoError(t, repo.Put(ctx, entity.TypeIntervention, entity.Entity{"id": "int-2", "notes": "temp-1-abc-suffix"}))

	n, err := repo.ReplaceReferences(ctx, "temp-1-abc", "ch-42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, entity.TypeIntervention, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "ch-42", got.String("chantierId"))

	other, err := repo.Get(ctx, entity.TypeIntervention, "int-2")
	require.NoError(t, err)
	assert.Equal(t, "temp-1-abc-suffix", other.String("notes"))
}

func TestQueueRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Queue()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	add := func(op queue.Operation, id string, at time.Time, payload entity.Entity) int64 {
		n, err := repo.Add(ctx, &queue.Item{
			Operation:  op,
			EntityType: entity.TypeClient,
			EntityID:   id,
			Payload:    payload,
			EnqueuedAt: at,
			Status:     queue.StatusPending,
		})
		require.NoError(t, err)
		return n
	}

	second := add(queue.OperationUpdate, "c-1", base.Add(time.Second), entity.Entity{"nom": "B"})
	first := add(queue.OperationUpdate, "c-1", base, entity.Entity{"nom": "A"})
	third := add(queue.OperationDelete, "c-2", base.Add(2*time.Second), nil)

	pending, err := repo.ListByStatus(ctx, queue.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{first, second, third}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.Equal(t, "A", pending[0].Payload.String("nom"))
	assert.Nil(t, pending[2].Payload)
	assert.True(t, pending[0].EnqueuedAt.Equal(base))

	latest, err := repo.FindLatestByEntity(ctx, entity.TypeClient, "c-1")
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)

	latest.Status = queue.StatusFailed
	latest.RetryCount = 3
	latest.LastError = "boom"
	require.NoError(t, repo.Update(ctx, latest))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Pending: 2, Failed: 1}, counts)

	n, err := repo.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	count, err := repo.CountByEntity(ctx, entity.TypeClient, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	removed, err := repo.DeleteByEntity(ctx, entity.TypeClient, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	require.NoError(t, repo.Delete(ctx, third))
	_, err = repo.Get(ctx, third)
	assert.ErrorIs(t, err, queue.ErrItemNotFound)

	err = repo.Update(ctx, &queue.Item{ID: 999, Status: queue.StatusPending})
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
}

func TestQueueRepository_Rewrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Queue()

	_, err := repo.Add(ctx, &queue.Item{
		Operation: queue.OperationUpdate, EntityType: entity.TypeChantier, EntityID: "temp-9-x",
		Payload: entity.Entity{"nom": "Parc"}, EnqueuedAt: time.Now(), Status: queue.StatusPending,
	})
	require.NoError(t, err)
	_, err = repo.Add(ctx, &queue.Item{
		Operation: queue.OperationCreate, EntityType: entity.TypeIntervention, EntityID: "temp-10-y",
		Payload: entity.Entity{"chantierId": "temp-9-x"}, EnqueuedAt: time.Now(), Status: queue.StatusPending,
	})
	require.NoError(t, err)

	n, err := repo.RewriteEntityID(ctx, entity.TypeChantier, "temp-9-x", "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.ReplaceReferences(ctx, "temp-9-x", "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := repo.ListByStatus(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ch-1", items[0].EntityID)
	assert.Equal(t, "ch-1", items[1].Payload.String("chantierId"))
	assert.Equal(t, "temp-10-y", items[1].EntityID)
}

func TestConflictRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Conflicts()

	empty, err := repo.LoadConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	local := entity.Entity{"id": "int-001", "version": 1, "updatedAt": "2024-05-01T10:00:00Z", "notes": "A"}
	server := entity.Entity{"id": "int-001", "version": 2, "updatedAt": "2024-05-01T11:00:00Z", "notes": "B"}
	c1 := conflict.CreateSyncConflict(entity.TypeIntervention, "int-001", local, server, time.UnixMilli(1))
	c2 := conflict.CreateSyncConflict(entity.TypeIntervention, "int-001", local, server, time.UnixMilli(2))

	for _, c := range []conflict.SyncConflict{c2, c1} {
		inserted, err := repo.InsertConflict(ctx, c)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := repo.InsertConflict(ctx, c2)
	require.NoError(t, err)
	assert.False(t, inserted)

	loaded, err := repo.LoadConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, c2.ID, loaded[0].ID)
	assert.Equal(t, []string{"notes"}, loaded[0].ConflictingFields)
	assert.Equal(t, "B", loaded[0].ServerVersion.String("notes"))

	at := time.UnixMilli(1714557600000)
	ok, err := repo.ResolveConflict(ctx, c2.ID, conflict.ResolutionResult{
		ConflictID: c2.ID, Resolution: conflict.Merge, MergedData: entity.Entity{"notes": "AB"}, Timestamp: at,
	}, conflict.HistoryLimit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ResolveConflict(ctx, c2.ID, conflict.ResolutionResult{
		ConflictID: c2.ID, Resolution: conflict.KeepLocal, Timestamp: at,
	}, conflict.HistoryLimit)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := repo.DeleteConflict(ctx, c1.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	loaded, err = repo.LoadConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	got, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, conflict.Merge, got[0].Resolution)
	assert.Equal(t, "AB", got[0].MergedData.String("notes"))
	assert.True(t, got[0].Timestamp.Equal(at))
}

func TestConflictRepository_HistoryTrimmed(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).Conflicts()

	const limit = 3
	for i := 0; i < 5; i++ {
		c := conflict.SyncConflict{ID: fmt.Sprintf("c-%d", i), EntityType: entity.TypeClient, EntityID: "c"}
		_, err := repo.InsertConflict(ctx, c)
		require.NoError(t, err)
		ok, err := repo.ResolveConflict(ctx, c.ID, conflict.ResolutionResult{
			ConflictID: c.ID, Resolution: conflict.KeepServer, Timestamp: time.UnixMilli(int64(i)),
		}, limit)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := repo.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, got, limit)
	assert.Equal(t, "c-2", got[0].ConflictID)
	assert.Equal(t, "c-4", got[2].ConflictID)

	require.NoError(t, repo.DeleteAllConflicts(ctx))
}

// Демон и CLI держат разные Store поверх одного файла
func TestConflictStore_TwoProcesses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	openStore := func() *conflict.Store {
		s, err := New(path, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		store := conflict.NewStore(s.Conflicts(), log)
		require.NoError(t, store.Load(ctx))
		return store
	}

	newConflict := func(id string, at int64) conflict.SyncConflict {
		local := entity.Entity{"id": id, "version": 1, "updatedAt": "2024-05-01T10:00:00Z", "nom": "A"}
		server := entity.Entity{"id": id, "version": 2, "updatedAt": "2024-05-01T11:00:00Z", "nom": "B"}
		return conflict.CreateSyncConflict(entity.TypeClient, id, local, server, time.UnixMilli(at))
	}

	daemon := openStore()
	cli := openStore()

	c1 := newConflict("c-1", 1)
	_, err := daemon.Add(ctx, c1)
	require.NoError(t, err)

	require.NoError(t, cli.Load(ctx))
	_, err = cli.Resolve(ctx, c1.ID, conflict.KeepServer, nil)
	require.NoError(t, err)

	// демон еще не перечитал состояние, но не возвращает разрешенный конфликт
	_, err = daemon.Add(ctx, newConflict("c-2", 2))
	require.NoError(t, err)

	fresh := openStore()
	ids := make([]string, 0)
	for _, c := range fresh.List() {
		ids = append(ids, c.EntityID)
	}
	assert.Equal(t, []string{"c-2"}, ids)

	_, err = daemon.Resolve(ctx, c1.ID, conflict.KeepLocal, nil)
	assert.ErrorIs(t, err, conflict.ErrNotFound)
	assert.False(t, daemon.HasEntityConflict(entity.TypeClient, "c-1"))

	require.NoError(t, daemon.Load(ctx))
	require.Len(t, daemon.History(), 1)
	assert.Equal(t, conflict.KeepServer, daemon.History()[0].Resolution)
}

func TestConflictRepository_WithStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := conflict.NewStore(s.Conflicts(), log)
	require.NoError(t, store.Load(ctx))

	local := entity.Entity{"id": "c-1", "version": 1, "updatedAt": "2024-05-01T10:00:00Z", "nom": "A"}
	server := entity.Entity{"id": "c-1", "version": 2, "updatedAt": "2024-05-01T11:00:00Z", "nom": "B"}
	c := conflict.CreateSyncConflict(entity.TypeClient, "c-1", local, server, time.UnixMilli(5))

	_, err := store.Add(ctx, c)
	require.NoError(t, err)
	_, err = store.Resolve(ctx, c.ID, conflict.KeepServer, nil)
	require.NoError(t, err)

	reloaded := conflict.NewStore(s.Conflicts(), log)
	require.NoError(t, reloaded.Load(ctx))
	assert.False(t, reloaded.HasConflicts())
	require.Len(t, reloaded.History(), 1)
	assert.Equal(t, conflict.KeepServer, reloaded.History()[0].Resolution)
}

func TestLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := s.Lease("sync")
	a.now = func() time.Time { return now }
	b := s.Lease("sync")
	b.now = func() time.Time { return now }

	ok, err := a.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "owner renews its own lease")

	now = now.Add(2 * time.Minute)
	ok, err = b.Acquire(ctx, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, a.Release(ctx, "owner-a"))
	ok, err = a.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is a no-op")

	require.NoError(t, b.Release(ctx, "owner-b"))
	ok, err = a.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
