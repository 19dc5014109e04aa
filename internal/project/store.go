// Package project implements the workflow store: the list of wizard
// projects, the active project selection and the step state machine.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/automl-assistant/internal/domain"
	"github.com/ashureev/automl-assistant/internal/store"
	"github.com/google/uuid"
)

// Snapshot is the persisted shape of the store.
type Snapshot struct {
	Projects        []domain.Project `json:"projects"`
	ActiveProjectID *string          `json:"activeProjectId"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides project id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds every project in memory and writes the whole state through the
// persister after each mutation. All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	projects  []domain.Project
	activeID  string
	persister store.Persister
	hub       *hub

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Open rehydrates a store from the persister. A persister with nothing saved
// yields an empty store. A blob that cannot be decoded is an error so that it
// is never silently overwritten.
func Open(ctx context.Context, persister store.Persister, opts ...Option) (*Store, error) {
	s := &Store{
		persister: persister,
		hub:       newHub(),
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	blob, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load project state: %w", err)
	}
	if len(blob) == 0 {
		s.logger.Info("No persisted project state, starting empty")
		return s, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("decode project state: %w", err)
	}
	for _, p := range snap.Projects {
		if p.CompletedSteps == nil {
			p.CompletedSteps = []domain.Step{}
		}
		s.projects = append(s.projects, p)
	}
	if snap.ActiveProjectID != nil {
		s.activeID = *snap.ActiveProjectID
	}

	s.logger.Info("Project state restored", "projects", len(s.projects), "active_project_id", s.activeID)
	return s, nil
}

// CreateProject adds a project at the first step and makes it active.
func (s *Store) CreateProject(ctx context.Context, name string) (string, error) {
	var id string
	err := s.mutate(ctx, "create project", func() bool {
		id = s.newID()
		s.projects = append(s.projects, domain.NewProject(id, name, s.now()))
		s.activeID = id
		return true
	})
	return id, err
}

// UpdateProject merges patch into the project. An unknown id is a no-op.
func (s *Store) UpdateProject(ctx context.Context, id string, patch Patch) error {
	var invalid error
	err := s.mutate(ctx, "update project", func() bool {
		i := s.indexLocked(id)
		if i < 0 || patch.Empty() {
			return false
		}
		p := &s.projects[i]
		if invalid = patch.validate(*p); invalid != nil {
			return false
		}
		patch.apply(p)
		s.touchLocked(p)
		return true
	})
	if invalid != nil {
		return invalid
	}
	return err
}

// DeleteProject removes the project and clears the active selection if it
// pointed at it. An unknown id is a no-op.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete project", func() bool {
		i := s.indexLocked(id)
		if i < 0 {
			return false
		}
		s.projects = slices.Delete(s.projects, i, i+1)
		if s.activeID == id {
			s.activeID = ""
		}
		return true
	})
}

// SetActiveProject selects the active project. An empty id clears the
// selection. The id is not checked against the project list.
func (s *Store) SetActiveProject(ctx context.Context, id string) error {
	return s.mutate(ctx, "set active project", func() bool {
		if s.activeID == id {
			return false
		}
		s.activeID = id
		return true
	})
}

// Projects returns a copy of every project in creation order.
func (s *Store) Projects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, len(s.projects))
	for i, p := range s.projects {
		out[i] = p.Clone()
	}
	return out
}

// Project returns a copy of the project with the given id.
func (s *Store) Project(id string) (domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return domain.Project{}, false
	}
	return s.projects[i].Clone(), true
}

// ActiveProjectID returns the selected id, which may be empty or dangling.
func (s *Store) ActiveProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveProject returns the selected project. It reports false when nothing
// is selected or the selection points at a deleted project.
func (s *Store) ActiveProject() (domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(s.activeID)
	if i < 0 {
		return domain.Project{}, false
	}
	return s.projects[i].Clone(), true
}

// Snapshot returns a copy of the full store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every mutation and
// a function that cancels the subscription.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	return s.hub.subscribe()
}

// Ping checks the persister.
func (s *Store) Ping(ctx context.Context) error {
	return s.persister.Ping(ctx)
}

// mutate runs fn under the write lock and, if it reports a change, persists
// the new state before releasing the lock so saves happen in mutation order.
func (s *Store) mutate(ctx context.Context, op string, fn func() bool) error {
	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return nil
	}
	snap := s.snapshotLocked()
	saveErr := s.saveLocked(ctx, snap)
	s.hub.publish(snap)
	s.mu.Unlock()

	if saveErr != nil {
		s.logger.Warn("Project state not persisted", "op", op, "error", saveErr)
		return &PersistenceWarning{Op: op, Err: saveErr}
	}
	return nil
}

func (s *Store) saveLocked(ctx context.Context, snap Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode project state: %w", err)
	}
	return s.persister.Save(ctx, blob)
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Projects: make([]domain.Project, len(s.projects))}
	for i, p := range s.projects {
		snap.Projects[i] = p.Clone()
	}
	if s.activeID != "" {
		id := s.activeID
		snap.ActiveProjectID = &id
	}
	return snap
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.projects, func(p domain.Project) bool { return p.ID == id })
}

// touchLocked refreshes UpdatedAt without ever moving it backwards.
func (s *Store) touchLocked(p *domain.Project) {
	now := s.now()
	if now.Before(p.UpdatedAt) {
		now = p.UpdatedAt
	}
	p.UpdatedAt = now
}
