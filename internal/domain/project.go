package domain

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a project.
type Status string

// Project statuses.
const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Project is one modelling effort moving through the wizard.
type Project struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	CurrentStep    Step             `json:"currentStep"`
	CompletedSteps []Step           `json:"completedSteps"`
	FurthestStep   Step             `json:"furthestStep,omitempty"`
	Status         Status           `json:"status"`
	Theme          *ThemeDefinition `json:"themeDefinition"`
	DatasetID      string           `json:"datasetId,omitempty"`
	// RemoteProjectID is the project id on the AutoML platform, not this project's id.
	RemoteProjectID string       `json:"projectId,omitempty"`
	ModelID         string       `json:"modelId,omitempty"`
	DeploymentID    string       `json:"deploymentId,omitempty"`
	BestModel       *ModelInfo   `json:"bestModel"`
	Dataset         *DatasetInfo `json:"datasetInfo"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// NewProject returns a project at the first step with no payloads.
func NewProject(id, name string, now time.Time) Project {
	return Project{
		ID:             id,
		Name:           name,
		CurrentStep:    FirstStep(),
		CompletedSteps: []Step{},
		FurthestStep:   FirstStep(),
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsCompleted reports whether step is in the completed set.
func (p *Project) IsCompleted(step Step) bool {
	return slices.Contains(p.CompletedSteps, step)
}

// Reached returns the furthest step the project has been on. Projects
// persisted without the field fall back to the furthest of the current
// and completed steps.
func (p *Project) Reached() Step {
	furthest := p.FurthestStep
	if !furthest.Valid() {
		furthest = FirstStep()
	}
	if p.CurrentStep.Index() > furthest.Index() {
		furthest = p.CurrentStep
	}
	for _, s := range p.CompletedSteps {
		if s.Index() > furthest.Index() {
			furthest = s
		}
	}
	return furthest
}

// CanGoTo reports whether the wizard may jump directly to step: any
// completed step, or any step up to one past the current one.
func (p *Project) CanGoTo(step Step) bool {
	if !step.Valid() {
		return false
	}
	return p.IsCompleted(step) || step.Index() <= p.CurrentStep.Index()+1
}

// Clone returns a deep copy of p.
func (p Project) Clone() Project {
	out := p
	out.CompletedSteps = slices.Clone(p.CompletedSteps)
	if out.CompletedSteps == nil {
		out.CompletedSteps = []Step{}
	}
	if p.Theme != nil {
		t := p.Theme.Clone()
		out.Theme = &t
	}
	if p.BestModel != nil {
		m := p.BestModel.Clone()
		out.BestModel = &m
	}
	if p.Dataset != nil {
		d := *p.Dataset
		d.Features = slices.Clone(p.Dataset.Features)
		out.Dataset = &d
	}
	return out
}

// DatasetInfo describes the uploaded training dataset.
type DatasetInfo struct {
	DatasetID    string   `json:"datasetId"`
	Name         string   `json:"name"`
	Rows         int      `json:"rows"`
	Columns      int      `json:"columns"`
	Features     []string `json:"features"`
	TargetColumn string   `json:"targetColumn,omitempty"`
	UploadedAt   string   `json:"uploadedAt,omitempty"`
}

// FeatureImpact is the contribution of one feature to a model.
type FeatureImpact struct {
	FeatureName        string  `json:"featureName"`
	ImpactNormalized   float64 `json:"impactNormalized"`
	ImpactUnnormalized float64 `json:"impactUnnormalized"`
}

// Metric names reported for a model.
const (
	MetricAUC       = "auc"
	MetricAccuracy  = "accuracy"
	MetricF1        = "f1"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricRMSE      = "rmse"
	MetricMAE       = "mae"
	MetricR2        = "r2"
)

// ModelInfo summarises the best model found by the AutoML run.
type ModelInfo struct {
	ModelID       string             `json:"modelId"`
	ModelType     string             `json:"modelType"`
	Metrics       map[string]float64 `json:"metrics"`
	SampleSize    float64            `json:"sampleSize,omitempty"`
	Features      int                `json:"features,omitempty"`
	FeatureImpact []FeatureImpact    `json:"featureImpact,omitempty"`
}

// Clone returns a deep copy of m.
func (m ModelInfo) Clone() ModelInfo {
	out := m
	if m.Metrics != nil {
		out.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			out.Metrics[k] = v
		}
	}
	out.FeatureImpact = slices.Clone(m.FeatureImpact)
	return out
}
