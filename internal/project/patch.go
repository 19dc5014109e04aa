package project

import (
	"fmt"
	"slices"

	"github.com/ashureev/automl-assistant/internal/domain"
)

// Progress moves a project's step state. The current step and the completed
// set always change together.
type Progress struct {
	Current   domain.Step   `json:"currentStep"`
	Completed []domain.Step `json:"completedSteps"`
}

// Patch is a partial project update. Nil fields are left unchanged.
type Patch struct {
	Name            *string                 `json:"name,omitempty"`
	Status          *domain.Status          `json:"status,omitempty"`
	Progress        *Progress               `json:"progress,omitempty"`
	Theme           *domain.ThemeDefinition `json:"themeDefinition,omitempty"`
	DatasetID       *string                 `json:"datasetId,omitempty"`
	RemoteProjectID *string                 `json:"projectId,omitempty"`
	ModelID         *string                 `json:"modelId,omitempty"`
	DeploymentID    *string                 `json:"deploymentId,omitempty"`
	BestModel       *domain.ModelInfo       `json:"bestModel,omitempty"`
	Dataset         *domain.DatasetInfo     `json:"datasetInfo,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

func (p Patch) validate(current domain.Project) error {
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.Progress == nil {
		return nil
	}
	if !p.Progress.Current.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStep, p.Progress.Current)
	}
	reached := current.Reached()
	if p.Progress.Current.Index() > reached.Index() {
		reached = p.Progress.Current
	}
	for _, s := range p.Progress.Completed {
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStep, s)
		}
		if s.Index() > reached.Index() {
			return fmt.Errorf("%w: %s", ErrUnvisitedStep, s)
		}
	}
	return nil
}

// apply merges the patch into p. It must be validated first.
func (p Patch) apply(dst *domain.Project) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Status != nil {
		dst.Status = *p.Status
	}
	if p.Progress != nil {
		reached := dst.Reached()
		if p.Progress.Current.Index() > reached.Index() {
			reached = p.Progress.Current
		}
		dst.CurrentStep = p.Progress.Current
		dst.CompletedSteps = dedupeSteps(p.Progress.Completed)
		dst.FurthestStep = reached
	}
	if p.Theme != nil {
		t := p.Theme.Clone()
		dst.Theme = &t
	}
	if p.DatasetID != nil {
		dst.DatasetID = *p.DatasetID
	}
	if p.RemoteProjectID != nil {
		dst.RemoteProjectID = *p.RemoteProjectID
	}
	if p.ModelID != nil {
		dst.ModelID = *p.ModelID
	}
	if p.DeploymentID != nil {
		dst.DeploymentID = *p.DeploymentID
	}
	if p.BestModel != nil {
		m := p.BestModel.Clone()
		dst.BestModel = &m
	}
	if p.Dataset != nil {
		d := *p.Dataset
		d.Features = slices.Clone(p.Dataset.Features)
		dst.Dataset = &d
	}
}

func dedupeSteps(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, 0, len(steps))
	for _, s := range steps {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
