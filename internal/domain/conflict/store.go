package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
)

// Store контейнер нерешенных конфликтов и ограниченной истории разрешений.
// Создается один раз при старте приложения и передается зависимостям.
type Store struct {
	repo      Repository
	log       *slog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	conflicts []SyncConflict
	history   []ResolutionResult
}

func NewStore(repo Repository, log *slog.Logger) *Store {
	return &Store{
		repo: repo,
		log:  log.With("component", "conflict_store"),
		now:  time.Now,
	}
}

// Load перечитывает конфликты и историю из хранилища. Вызывается при
// старте и перед решениями, чтобы увидеть изменения других процессов.
func (s *Store) Load(ctx context.Context) error {
	conflicts, err := s.repo.LoadConflicts(ctx)
	if err != nil {
		return fmt.Errorf("load conflicts: %w", err)
	}
	history, err := s.repo.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load conflict history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = conflicts
	s.history = capHistory(history)

	return nil
}

// Add добавляет конфликт; повторное добавление того же id ничего не меняет.
// false, если конфликт уже был, в том числе добавленный другим процессом.
func (s *Store) Add(ctx context.Context, c SyncConflict) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(c.ID) >= 0 {
		return false, nil
	}

	inserted, err := s.repo.InsertConflict(ctx, c)
	if err != nil {
		return false, fmt.Errorf("save conflict: %w", err)
	}

	next := make([]SyncConflict, 0, len(s.conflicts)+1)
	next = append(next, s.conflicts...)
	s.conflicts = append(next, c)

	if !inserted {
		return false, nil
	}

	s.log.Warn("conflict added",
		slog.String("conflict_id", c.ID),
		slog.String("entity_type", c.EntityType.String()),
		slog.String("entity_id", c.EntityID),
		slog.Any("fields", c.ConflictingFields),
	)

	return true, nil
}

// Resolve убирает конфликт из живого списка и дописывает результат в историю.
// ErrNotFound значит, что конфликт уже разрешен, здесь или другим процессом;
// вызывающие считают это повторным разрешением, а не сбоем.
func (s *Store) Resolve(ctx context.Context, id string, resolution Resolution, mergedData entity.Entity) (*ResolutionResult, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, resolution)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := ResolutionResult{
		ConflictID: id,
		Resolution: resolution,
		MergedData: mergedData.Clone(),
		Timestamp:  s.now(),
	}

	resolved, err := s.repo.ResolveConflict(ctx, id, result, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("save resolution: %w", err)
	}

	if idx := s.indexOf(id); idx >= 0 {
		s.conflicts = without(s.conflicts, idx)
	}
	if !resolved {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	history := make([]ResolutionResult, 0, len(s.history)+1)
	history = append(history, s.history...)
	s.history = capHistory(append(history, result))

	s.log.Info("conflict resolved",
		slog.String("conflict_id", id),
		slog.String("resolution", string(resolution)),
	)

	return &result, nil
}

// Remove тихо удаляет конфликт без записи в историю
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.DeleteConflict(ctx, id); err != nil {
		return fmt.Errorf("delete conflict: %w", err)
	}
	if idx := s.indexOf(id); idx >= 0 {
		s.conflicts = without(s.conflicts, idx)
	}

	return nil
}

// ClearAll очищает живой список, история сохраняется
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteAllConflicts(ctx); err != nil {
		return fmt.Errorf("clear conflicts: %w", err)
	}
	s.conflicts = nil

	return nil
}

func (s *Store) ByID(id string) (SyncConflict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return SyncConflict{}, false
	}
	return s.conflicts[idx], true
}

func (s *Store) ByEntity(t entity.Type, entityID string) []SyncConflict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SyncConflict
	for _, c := range s.conflicts {
		if c.EntityType == t && c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out
}

// HasEntityConflict есть ли нерешенный конфликт по записи
func (s *Store) HasEntityConflict(t entity.Type, entityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conflicts {
		if c.EntityType == t && c.EntityID == entityID {
			return true
		}
	}
	return false
}

func (s *Store) HasConflicts() bool {
	return s.Count() > 0
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conflicts)
}

// List конфликты в порядке обнаружения
func (s *Store) List() []SyncConflict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SyncConflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// History последние разрешения, от старых к новым
func (s *Store) History() []ResolutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ResolutionResult, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Store) indexOf(id string) int {
	for i, c := range s.conflicts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func without(conflicts []SyncConflict, idx int) []SyncConflict {
	out := make([]SyncConflict, 0, len(conflicts)-1)
	out = append(out, conflicts[:idx]...)
	return append(out, conflicts[idx+1:]...)
}

func capHistory(history []ResolutionResult) []ResolutionResult {
	if len(history) <= HistoryLimit {
		return history
	}
	return history[len(history)-HistoryLimit:]
}
