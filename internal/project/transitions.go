package project

import (
	"context"
	"fmt"

	"github.com/ashureev/automl-assistant/internal/domain"
)

// Advance marks the current step completed and moves to the next one. At the
// last step it changes nothing. The first advance moves a draft project to
// in_progress. Step payloads are not checked.
func (s *Store) Advance(ctx context.Context, id string) (domain.Project, error) {
	return s.transition(ctx, id, "advance step", func(p *domain.Project) (bool, error) {
		next, ok := p.CurrentStep.Next()
		if !ok {
			return false, nil
		}
		if !p.IsCompleted(p.CurrentStep) {
			p.CompletedSteps = append(p.CompletedSteps, p.CurrentStep)
		}
		p.CurrentStep = next
		p.FurthestStep = p.Reached()
		if p.Status == domain.StatusDraft {
			p.Status = domain.StatusInProgress
		}
		return true, nil
	})
}

// Back moves to the previous step. Completed steps are kept.
func (s *Store) Back(ctx context.Context, id string) (domain.Project, error) {
	return s.transition(ctx, id, "previous step", func(p *domain.Project) (bool, error) {
		prev, ok := p.CurrentStep.Prev()
		if !ok {
			return false, nil
		}
		p.FurthestStep = p.Reached()
		p.CurrentStep = prev
		return true, nil
	})
}

// GoTo jumps to step if it is completed or no further than one past the
// current step. The completed set is not changed.
func (s *Store) GoTo(ctx context.Context, id string, step domain.Step) (domain.Project, error) {
	if !step.Valid() {
		return domain.Project{}, fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}
	return s.transition(ctx, id, "go to step", func(p *domain.Project) (bool, error) {
		if p.CurrentStep == step {
			return false, nil
		}
		if !p.CanGoTo(step) {
			return false, fmt.Errorf("%w: %s from %s", ErrStepNotReachable, step, p.CurrentStep)
		}
		p.CurrentStep = step
		p.FurthestStep = p.Reached()
		return true, nil
	})
}

// Complete marks every step completed and the project completed. It is only
// allowed from the last step.
func (s *Store) Complete(ctx context.Context, id string) (domain.Project, error) {
	return s.transition(ctx, id, "complete project", func(p *domain.Project) (bool, error) {
		if p.CurrentStep != domain.LastStep() {
			return false, fmt.Errorf("%w: at %s", ErrNotAtFinalStep, p.CurrentStep)
		}
		p.CompletedSteps = domain.Steps()
		p.FurthestStep = domain.LastStep()
		p.Status = domain.StatusCompleted
		return true, nil
	})
}

func (s *Store) transition(ctx context.Context, id, op string, fn func(*domain.Project) (bool, error)) (domain.Project, error) {
	var (
		found  bool
		failed error
		result domain.Project
	)
	err := s.mutate(ctx, op, func() bool {
		i := s.indexLocked(id)
		if i < 0 {
			return false
		}
		found = true
		p := &s.projects[i]
		changed, err := fn(p)
		if err != nil {
			failed = err
			result = p.Clone()
			return false
		}
		if changed {
			s.touchLocked(p)
		}
		result = p.Clone()
		return changed
	})
	if !found {
		return domain.Project{}, ErrProjectNotFound
	}
	if failed != nil {
		return result, failed
	}
	return result, err
}
