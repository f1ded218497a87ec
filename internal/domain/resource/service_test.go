package resource

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, t entity.Type, id string) (entity.Entity, error) {
	args := m.Called(ctx, t, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(entity.Entity).Clone(), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error) {
	args := m.Called(ctx, t, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Entity), args.Error(1)
}

func (m *MockRepository) Insert(ctx context.Context, t entity.Type, e entity.Entity) error {
	args := m.Called(ctx, t, e)
	return args.Error(0)
}

func (m *MockRepository) Replace(ctx context.Context, t entity.Type, e entity.Entity, prevVersion int64) error {
	args := m.Called(ctx, t, e, prevVersion)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, t entity.Type, id string) error {
	args := m.Called(ctx, t, id)
	return args.Error(0)
}

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	s.newID = func() string { return "8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60" }
	return s
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	repo := &MockRepository{}
	repo.On("Insert", mock.Anything, entity.TypeChantier, mock.Anything).Return(nil)

	got, err := newTestService(repo).Create(ctx, entity.TypeChantier, entity.Entity{
		"id":      "temp-1700000000000-ab12cd34",
		"version": 7,
		"nom":     "Jardin Dupont",
	})
	require.NoError(t, err)

	assert.Equal(t, "8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60", got.ID())
	assert.EqualValues(t, 1, got.Version())
	assert.Equal(t, "Jardin Dupont", got.String("nom"))
	updatedAt, ok := got.UpdatedAt()
	require.True(t, ok)
	assert.True(t, updatedAt.Equal(testNow))
	assert.Equal(t, entity.FormatTimestamp(testNow), got.String(entity.FieldCreatedAt))
	repo.AssertExpectations(t)
}

func TestService_Create_Invalid(t *testing.T) {
	ctx := context.Background()
	s := newTestService(&MockRepository{})

	_, err := s.Create(ctx, entity.Type("jardins"), entity.Entity{"nom": "x"})
	assert.ErrorIs(t, err, entity.ErrUnknownType)

	_, err = s.Create(ctx, entity.TypeClient, nil)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	current := entity.Entity{
		"id":        "i1",
		"version":   2,
		"updatedAt": "2024-02-01T08:00:00Z",
		"titre":     "Taille de haies",
		"notes":     "B",
	}

	t.Run("merges partial and increments version", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("Get", mock.Anything, entity.TypeIntervention, "i1").Return(current, nil)
		repo.On("Replace", mock.Anything, entity.TypeIntervention, mock.Anything, int64(2)).Return(nil)

		got, err := newTestService(repo).Update(ctx, entity.TypeIntervention, "i1", entity.Entity{
			"notes":   "A",
			"version": 3,
			"id":      "other",
		})
		require.NoError(t, err)

		assert.Equal(t, "i1", got.ID())
		assert.EqualValues(t, 3, got.Version())
		assert.Equal(t, "A", got.String("notes"))
		assert.Equal(t, "Taille de haies", got.String("titre"))
		updatedAt, _ := got.UpdatedAt()
		assert.True(t, updatedAt.Equal(testNow))
	})

	t.Run("rereads after concurrent write", func(t *testing.T) {
		newer := current.Clone().SetVersion(3)

		repo := &MockRepository{}
		repo.On("Get", mock.Anything, entity.TypeIntervention, "i1").Return(current, nil).Once()
		repo.On("Replace", mock.Anything, entity.TypeIntervention, mock.Anything, int64(2)).Return(ErrVersionConflict).Once()
		repo.On("Get", mock.Anything, entity.TypeIntervention, "i1").Return(newer, nil).Once()
		repo.On("Replace", mock.Anything, entity.TypeIntervention, mock.Anything, int64(3)).Return(nil).Once()

		got, err := newTestService(repo).Update(ctx, entity.TypeIntervention, "i1", entity.Entity{"notes": "C"})
		require.NoError(t, err)
		assert.EqualValues(t, 4, got.Version())
		repo.AssertExpectations(t)
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("Get", mock.Anything, entity.TypeIntervention, "i1").Return(current, nil)
		repo.On("Replace", mock.Anything, entity.TypeIntervention, mock.Anything, int64(2)).Return(ErrVersionConflict)

		_, err := newTestService(repo).Update(ctx, entity.TypeIntervention, "i1", entity.Entity{"notes": "C"})
		assert.ErrorIs(t, err, ErrVersionConflict)
		repo.AssertNumberOfCalls(t, "Replace", updateAttempts)
	})

	t.Run("missing", func(t *testing.T) {
		repo := &MockRepository{}
		repo.On("Get", mock.Anything, entity.TypeIntervention, "zz").Return(nil, ErrNotFound)

		_, err := newTestService(repo).Update(ctx, entity.TypeIntervention, "zz", entity.Entity{"notes": "C"})
		assert.ErrorIs(t, err, ErrNotFound)
		repo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_GetListDelete(t *testing.T) {
	ctx := context.Background()
	repo := &MockRepository{}
	repo.On("Get", mock.Anything, entity.TypeClient, "c1").Return(entity.Entity{"id": "c1", "nom": "Martin"}, nil)
	repo.On("List", mock.Anything, entity.TypeClient, map[string]string{"ville": "Lyon"}).
		Return([]entity.Entity{{"id": "c1"}}, nil)
	repo.On("List", mock.Anything, entity.TypeDevis, map[string]string(nil)).Return(nil, errors.New("connection reset"))
	repo.On("Delete", mock.Anything, entity.TypeClient, "c1").Return(nil)

	s := newTestService(repo)

	got, err := s.Get(ctx, entity.TypeClient, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Martin", got.String("nom"))

	_, err = s.Get(ctx, entity.TypeClient, "")
	assert.ErrorIs(t, err, entity.ErrMissingID)

	list, err := s.List(ctx, entity.TypeClient, map[string]string{"ville": "Lyon"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.List(ctx, entity.TypeDevis, nil)
	assert.Error(t, err)

	require.NoError(t, s.Delete(ctx, entity.TypeClient, "c1"))
}
