package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

func TestOfflineStore_UpdateOffline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedClient(t, env, "123", "Martin")
	env.goOffline()

	got, err := env.store.For(entity.TypeClient).Update(ctx, "123", entity.Entity{"nom": "Dupont"})
	require.NoError(t, err)
	assert.Equal(t, "Dupont", got.String("nom"))
	assert.Equal(t, int64(0), got.SyncedAt())

	cached := env.cached(t, entity.TypeClient, "123")
	assert.Equal(t, "Dupont", cached.String("nom"))
	assert.Equal(t, int64(0), cached.SyncedAt())
	assert.EqualValues(t, 1, cached.Version())

	items := env.queueItems(t)
	require.Len(t, items, 1)
	assert.Equal(t, queue.OperationUpdate, items[0].Operation)
	assert.Equal(t, entity.TypeClient, items[0].EntityType)
	assert.Equal(t, "123", items[0].EntityID)
	assert.Equal(t, "Dupont", items[0].Payload.String("nom"))
	assert.Equal(t, queue.StatusPending, items[0].Status)
	assert.Empty(t, env.api.callLog())
}

func TestOfflineStore_Get(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.api.seed(entity.TypeClient, entity.Entity{"id": "c1", "nom": "Martin", "version": 1})

	got, err := env.store.Get(ctx, entity.TypeClient, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Martin", got.String("nom"))
	assert.Positive(t, got.SyncedAt())

	cached := env.cached(t, entity.TypeClient, "c1")
	assert.Equal(t, got.SyncedAt(), cached.SyncedAt())

	t.Run("fetch failure falls back to cache", func(t *testing.T) {
		env.api.getErr = errNetwork
		defer func() { env.api.getErr = nil }()

		got, err := env.store.Get(ctx, entity.TypeClient, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Martin", got.String("nom"))
	})

	t.Run("offline reads cache", func(t *testing.T) {
		env.goOffline()
		defer env.goOnline()

		got, err := env.store.Get(ctx, entity.TypeClient, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Martin", got.String("nom"))

		_, err = env.store.Get(ctx, entity.TypeClient, "never-seen")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := env.store.Get(ctx, entity.Type("jardins"), "c1")
		assert.ErrorIs(t, err, entity.ErrUnknownType)

		_, err = env.store.Get(ctx, entity.TypeClient, "")
		assert.ErrorIs(t, err, entity.ErrMissingID)
	})
}

func TestOfflineStore_GetReportsConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedClient(t, env, "c1", "Martin")

	env.goOffline()
	_, err := env.store.Update(ctx, entity.TypeClient, "c1", entity.Entity{"nom": "Local"})
	require.NoError(t, err)
	env.api.touch(entity.TypeClient, "c1", entity.Entity{"nom": "Serveur"})
	env.goOnline()

	got, err := env.store.Get(ctx, entity.TypeClient, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Local", got.String("nom"))
	assert.Equal(t, 1, env.conflicts.Count())

	c := env.conflicts.List()[0]
	assert.Equal(t, "c1", c.EntityID)
	assert.Equal(t, "Serveur", c.ServerVersion.String("nom"))
	assert.Equal(t, "Local", c.LocalVersion.String("nom"))

	// повторное чтение не плодит конфликты по той же записи
	_, err = env.store.Get(ctx, entity.TypeClient, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.conflicts.Count())

	// кэш остается локальной копией
	assert.Equal(t, "Local", env.cached(t, entity.TypeClient, "c1").String("nom"))
}

func TestOfflineStore_GetRebasesChangeWithoutLocalCopy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.api.seed(entity.TypeClient, entity.Entity{"id": "c9", "nom": "Y", "ville": "Lyon", "version": 4})

	env.goOffline()
	_, err := env.store.Update(ctx, entity.TypeClient, "c9", entity.Entity{"nom": "X"})
	require.NoError(t, err)
	env.goOnline()

	got, err := env.store.Get(ctx, entity.TypeClient, "c9")
	require.NoError(t, err)
	assert.Equal(t, "X", got.String("nom"))
	assert.Equal(t, "Lyon", got.String("ville"))
	assert.EqualValues(t, 4, got.Version())
	assert.Equal(t, int64(0), got.SyncedAt())
	assert.Equal(t, 0, env.conflicts.Count())
}

func TestOfflineStore_GetLocallyDeleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedClient(t, env, "c1", "Martin")

	env.goOffline()
	require.NoError(t, env.store.Delete(ctx, entity.TypeClient, "c1"))
	env.goOnline()

	_, err := env.store.Get(ctx, entity.TypeClient, "c1")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	list, err := env.store.List(ctx, entity.TypeClient, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOfflineStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("online", func(t *testing.T) {
		env := newTestEnv(t)

		got, err := env.store.Create(ctx, entity.TypeClient, entity.Entity{"nom": "Durand"})
		require.NoError(t, err)
		assert.Equal(t, "srv-1", got.ID())
		assert.Positive(t, got.SyncedAt())
		assert.Empty(t, env.queueItems(t))
		assert.Equal(t, "Durand", env.cached(t, entity.TypeClient, "srv-1").String("nom"))
	})

	t.Run("offline", func(t *testing.T) {
		env := newTestEnv(t)
		env.goOffline()

		got, err := env.store.Create(ctx, entity.TypeClient, entity.Entity{"nom": "Durand", "id": "ignored"})
		require.NoError(t, err)
		assert.True(t, entity.IsTemporaryID(got.ID()))
		assert.EqualValues(t, 0, got.Version())
		assert.Equal(t, int64(0), got.SyncedAt())

		items := env.queueItems(t)
		require.Len(t, items, 1)
		assert.Equal(t, queue.OperationCreate, items[0].Operation)
		assert.Equal(t, got.ID(), items[0].EntityID)
		assert.NotContains(t, items[0].Payload, "id")

		assert.Equal(t, "Durand", env.cached(t, entity.TypeClient, got.ID()).String("nom"))
	})

	t.Run("online failure commits locally", func(t *testing.T) {
		env := newTestEnv(t)
		env.api.setWriteErr(errNetwork)

		got, err := env.store.Create(ctx, entity.TypeClient, entity.Entity{"nom": "Durand"})
		require.NoError(t, err)
		assert.True(t, entity.IsTemporaryID(got.ID()))
		assert.Len(t, env.queueItems(t), 1)
	})

	t.Run("reference to local entity goes through queue", func(t *testing.T) {
		env := newTestEnv(t)
		env.goOffline()
		chantier, err := env.store.Create(ctx, entity.TypeChantier, entity.Entity{"nom": "Parc"})
		require.NoError(t, err)
		env.goOnline()

		got, err := env.store.Create(ctx, entity.TypeIntervention, entity.Entity{"chantierId": chantier.ID()})
		require.NoError(t, err)
		assert.True(t, entity.IsTemporaryID(got.ID()))
		assert.Empty(t, env.api.callLog())
		assert.Len(t, env.queueItems(t), 2)
	})
}

func TestOfflineStore_UpdateOnline(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedClient(t, env, "c1", "Martin")

	got, err := env.store.Update(ctx, entity.TypeClient, "c1", entity.Entity{"nom": "Dupont"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version())
	assert.Positive(t, got.SyncedAt())
	assert.Equal(t, []string{"PUT clients/c1"}, env.api.callLog())
	assert.Empty(t, env.queueItems(t))

	t.Run("pending changes keep the order", func(t *testing.T) {
		env.goOffline()
		_, err := env.store.Update(ctx, entity.TypeClient, "c1", entity.Entity{"nom": "A"})
		require.NoError(t, err)
		env.goOnline()

		_, err = env.store.Update(ctx, entity.TypeClient, "c1", entity.Entity{"nom": "B"})
		require.NoError(t, err)
		assert.Len(t, env.api.callLog(), 1)
		assert.Len(t, env.queueItems(t), 2)
	})
}

func TestOfflineStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("local only entity", func(t *testing.T) {
		env := newTestEnv(t)
		env.goOffline()

		created, err := env.store.Create(ctx, entity.TypeDevis, entity.Entity{"numero": "D-1"})
		require.NoError(t, err)
		_, err = env.store.Update(ctx, entity.TypeDevis, created.ID(), entity.Entity{"montant": 120})
		require.NoError(t, err)
		require.Len(t, env.queueItems(t), 2)

		require.NoError(t, env.store.Delete(ctx, entity.TypeDevis, created.ID()))
		assert.Empty(t, env.queueItems(t))
		_, err = env.storage.Cache().Get(ctx, entity.TypeDevis, created.ID())
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("online", func(t *testing.T) {
		env := newTestEnv(t)
		seedClient(t, env, "c1", "Martin")

		require.NoError(t, env.store.Delete(ctx, entity.TypeClient, "c1"))
		assert.Equal(t, []string{"DELETE clients/c1"}, env.api.callLog())
		assert.Empty(t, env.queueItems(t))

		// повторное удаление: 404 считается успехом
		require.NoError(t, env.store.Delete(ctx, entity.TypeClient, "c1"))
		assert.Empty(t, env.queueItems(t))
	})

	t.Run("online failure queues delete", func(t *testing.T) {
		env := newTestEnv(t)
		seedClient(t, env, "c1", "Martin")
		env.api.setWriteErr(errNetwork)

		require.NoError(t, env.store.Delete(ctx, entity.TypeClient, "c1"))
		items := env.queueItems(t)
		require.Len(t, items, 1)
		assert.Equal(t, queue.OperationDelete, items[0].Operation)
	})
}

func TestOfflineStore_List(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.api.seed(entity.TypeChantier, entity.Entity{"id": "ch1", "nom": "Parc", "clientId": "c1", "version": 1})
	env.api.seed(entity.TypeChantier, entity.Entity{"id": "ch2", "nom": "Allee", "clientId": "c2", "version": 1})

	env.goOffline()
	local, err := env.store.Create(ctx, entity.TypeChantier, entity.Entity{"nom": "Bosquet", "clientId": "c1"})
	require.NoError(t, err)

	// без связи и без кэша есть только локальная запись
	list, err := env.store.List(ctx, entity.TypeChantier, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, local.ID(), list[0].ID())

	env.goOnline()
	list, err = env.store.List(ctx, entity.TypeChantier, nil)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = env.store.For(entity.TypeChantier).List(ctx, map[string]any{"clientId": "c1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, e := range list {
		ids = append(ids, e.ID())
	}
	assert.ElementsMatch(t, []string{"ch1", local.ID()}, ids)

	env.goOffline()
	list, err = env.store.List(ctx, entity.TypeChantier, map[string]any{"clientId": "c2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ch2", list[0].ID())
}

func TestReferencesTemporary(t *testing.T) {
	tests := []struct {
		name string
		in   entity.Entity
		want bool
	}{
		{name: "nil", in: nil, want: false},
		{name: "plain", in: entity.Entity{"nom": "Parc", "chantierId": "ch-1"}, want: false},
		{name: "own id ignored", in: entity.Entity{"id": "temp-1-abc"}, want: false},
		{name: "direct reference", in: entity.Entity{"chantierId": "temp-1-abc"}, want: true},
		{name: "nested", in: entity.Entity{"lignes": []any{map[string]any{"interventionId": "temp-2-def"}}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, referencesTemporary(tt.in))
		})
	}
}
