package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/resource"
)

type stored struct {
	seq  int64
	data entity.Entity
}

// ResourceRepository хранилище сервера в памяти процесса, используется
// без DATABASE_URI и в тестах
type ResourceRepository struct {
	mu   sync.RWMutex
	seq  int64
	data map[entity.Type]map[string]stored
}

func NewResourceRepository() *ResourceRepository {
	return &ResourceRepository{data: make(map[entity.Type]map[string]stored)}
}

func (r *ResourceRepository) Get(_ context.Context, t entity.Type, id string) (entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.data[t][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, id)
	}
	return s.data.Clone(), nil
}

func (r *ResourceRepository) List(_ context.Context, t entity.Type, filter map[string]string) ([]entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]stored, 0, len(r.data[t]))
	for _, s := range r.data[t] {
		if matches(s.data, filter) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]entity.Entity, 0, len(matched))
	for _, s := range matched {
		out = append(out, s.data.Clone())
	}
	return out, nil
}

func (r *ResourceRepository) Insert(_ context.Context, t entity.Type, e entity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data[t] == nil {
		r.data[t] = make(map[string]stored)
	}
	if _, ok := r.data[t][e.ID()]; ok {
		return fmt.Errorf("%w: duplicate id %s", resource.ErrInvalidData, e.ID())
	}
	r.seq++
	r.data[t][e.ID()] = stored{seq: r.seq, data: e.Clone()}
	return nil
}

func (r *ResourceRepository) Replace(_ context.Context, t entity.Type, e entity.Entity, prevVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.data[t][e.ID()]
	if !ok {
		return fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, e.ID())
	}
	if s.data.Version() != prevVersion {
		return resource.ErrVersionConflict
	}
	s.data = e.Clone()
	r.data[t][e.ID()] = s
	return nil
}

func (r *ResourceRepository) Delete(_ context.Context, t entity.Type, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[t][id]; !ok {
		return fmt.Errorf("%w: %s/%s", resource.ErrNotFound, t, id)
	}
	delete(r.data[t], id)
	return nil
}

func matches(e entity.Entity, filter map[string]string) bool {
	for k, v := range filter {
		if e.String(k) != v {
			return false
		}
	}
	return true
}
