package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/conflict"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage/sqlite"
)

var errNetwork = errors.New("network unreachable")

// fakeAPI сервер в памяти: версия растет с каждой записью, updatedAt
// берется из собственных часов
type fakeAPI struct {
	mu      sync.Mutex
	records map[string]entity.Entity
	clock   time.Time
	seq     int

	calls    []string
	payloads []entity.Entity

	writeErr  error
	getErr    error
	healthErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		records: make(map[string]entity.Entity),
		clock:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func fakeKey(t entity.Type, id string) string {
	return t.String() + "/" + id
}

func (f *fakeAPI) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// seed кладет запись на сервер в обход журнала вызовов
func (f *fakeAPI) seed(t entity.Type, e entity.Entity) entity.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := e.Clone()
	if _, ok := stored[entity.FieldUpdatedAt]; !ok {
		stored.SetUpdatedAt(f.tick())
	}
	f.records[fakeKey(t, stored.ID())] = stored
	return stored.Clone()
}

// touch имитирует правку записи другим пользователем
func (f *fakeAPI) touch(t entity.Type, id string, fields entity.Entity) entity.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := f.records[fakeKey(t, id)]
	rec = rec.Merge(fields).SetVersion(rec.Version() + 1).SetUpdatedAt(f.tick())
	f.records[fakeKey(t, id)] = rec
	return rec.Clone()
}

func (f *fakeAPI) stored(t entity.Type, id string) (entity.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[fakeKey(t, id)]
	return rec.Clone(), ok
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeAPI) record(call string, payload entity.Entity) {
	f.calls = append(f.calls, call)
	f.payloads = append(f.payloads, payload.Clone())
}

func (f *fakeAPI) Get(_ context.Context, t entity.Type, id string) (entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[fakeKey(t, id)]
	if !ok {
		return nil, &StatusError{StatusCode: http.StatusNotFound}
	}
	return rec.Clone(), nil
}

func (f *fakeAPI) List(_ context.Context, t entity.Type, params map[string]string) ([]entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	out := []entity.Entity{}
	for key, rec := range f.records {
		if !strings.HasPrefix(key, t.String()+"/") {
			continue
		}
		match := true
		for k, v := range params {
			if fmt.Sprint(rec[k]) != v {
				match = false
			}
		}
		if match {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (f *fakeAPI) Create(_ context.Context, t entity.Type, data entity.Entity) (entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.record("POST "+t.String(), data)

	f.seq++
	rec := data.WithoutTechnical()
	if rec == nil {
		rec = entity.Entity{}
	}
	rec.SetID(fmt.Sprintf("srv-%d", f.seq)).SetVersion(1).SetUpdatedAt(f.tick())
	f.records[fakeKey(t, rec.ID())] = rec
	return rec.Clone(), nil
}

func (f *fakeAPI) Update(_ context.Context, t entity.Type, id string, data entity.Entity) (entity.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.record("PUT "+fakeKey(t, id), data)

	rec, ok := f.records[fakeKey(t, id)]
	if !ok {
		return nil, &StatusError{StatusCode: http.StatusNotFound}
	}
	rec = rec.Merge(data.WithoutTechnical()).SetVersion(rec.Version() + 1).SetUpdatedAt(f.tick())
	f.records[fakeKey(t, id)] = rec
	return rec.Clone(), nil
}

func (f *fakeAPI) Delete(_ context.Context, t entity.Type, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	f.record("DELETE "+fakeKey(t, id), nil)

	if _, ok := f.records[fakeKey(t, id)]; !ok {
		return &StatusError{StatusCode: http.StatusNotFound}
	}
	delete(f.records, fakeKey(t, id))
	return nil
}

func (f *fakeAPI) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

type testEnv struct {
	api       *fakeAPI
	storage   *sqlite.Storage
	queue     *queue.Service
	conflicts *conflict.Store
	monitor   *Monitor
	runner    *Runner
	workflow  *Workflow
	store     *OfflineStore

	sleeps    []time.Duration
	scheduled []func()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := discardLogger()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "client.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{
		api:     newFakeAPI(),
		storage: st,
	}

	env.queue = queue.NewService(st.Queue(), log)
	env.conflicts = conflict.NewStore(st.Conflicts(), log)
	require.NoError(t, env.conflicts.Load(ctx))

	env.monitor = NewMonitor(env.api.Health, 0, log)
	env.monitor.SetOnline(ctx, true)

	env.runner = NewRunner(env.api, env.queue, st.Cache(), env.conflicts, env.monitor, nil, SyncConfig{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}, log)
	env.runner.sleep = func(_ context.Context, d time.Duration) {
		env.sleeps = append(env.sleeps, d)
	}

	env.workflow = NewWorkflow(env.conflicts, st.Cache(), env.queue, env.runner, 0, log)
	env.workflow.schedule = func(_ time.Duration, f func()) {
		env.scheduled = append(env.scheduled, f)
	}
	env.runner.ReportTo(env.workflow)

	env.store = NewOfflineStore(env.api, st.Cache(), env.queue, env.monitor, env.workflow, time.Second, log)

	return env
}

func (e *testEnv) goOffline() {
	e.monitor.SetOnline(context.Background(), false)
}

func (e *testEnv) goOnline() {
	e.monitor.SetOnline(context.Background(), true)
}

// cacheServerCopy кладет в кэш подтвержденную копию серверной записи
func (e *testEnv) cacheServerCopy(t *testing.T, typ entity.Type, rec entity.Entity) {
	t.Helper()
	require.NoError(t, e.storage.Cache().Put(context.Background(), typ, rec.Clone().SetSyncedAt(time.Now().UnixMilli())))
}

func (e *testEnv) cached(t *testing.T, typ entity.Type, id string) entity.Entity {
	t.Helper()
	got, err := e.storage.Cache().Get(context.Background(), typ, id)
	require.NoError(t, err)
	return got
}

func (e *testEnv) queueItems(t *testing.T) []*queue.Item {
	t.Helper()
	items, err := e.queue.List(context.Background())
	require.NoError(t, err)
	return items
}
