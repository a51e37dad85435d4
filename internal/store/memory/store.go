package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
)

// Store is the in-memory reference implementation of store.Store. A single
// mutex serializes all writes, which trivially satisfies the per-key
// serialization contract.
type Store struct {
	mu            sync.RWMutex
	tasks         map[string]*models.Task
	registrations map[string]*models.WebhookRegistration
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		tasks:         make(map[string]*models.Task),
		registrations: make(map[string]*models.WebhookRegistration),
	}
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return task.Clone(), nil
}

func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrConflict
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch store.TaskPatch) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated := task.Clone()
	store.ApplyTaskPatch(updated, patch)
	s.tasks[id] = updated
	return updated.Clone(), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRegistration(ctx context.Context, sourceIdentifier string) (*models.WebhookRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.registrations[sourceIdentifier]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry.Clone(), nil
}

func (s *Store) SaveRegistration(ctx context.Context, entry *models.WebhookRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[entry.SourceIdentifier] = entry.Clone()
	return nil
}

func (s *Store) UpdateRegistration(ctx context.Context, sourceIdentifier string, patch store.RegistrationPatch) (*models.WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.registrations[sourceIdentifier]
	if !ok {
		return nil, store.ErrNotFound
	}
	updated := entry.Clone()
	store.ApplyRegistrationPatch(updated, patch)
	s.registrations[sourceIdentifier] = updated
	return updated.Clone(), nil
}

func (s *Store) DeleteRegistration(ctx context.Context, sourceIdentifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[sourceIdentifier]; !ok {
		return store.ErrNotFound
	}
	delete(s.registrations, sourceIdentifier)
	return nil
}

// Migrate is a no-op for the in-memory store
func (s *Store) Migrate() error { return nil }

// Close is a no-op for the in-memory store
func (s *Store) Close() error { return nil }
