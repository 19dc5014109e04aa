package domain

import "slices"

// TargetType is the kind of prediction a use case needs.
type TargetType string

// Target types.
const (
	TargetBinary     TargetType = "binary"
	TargetRegression TargetType = "regression"
	TargetMulticlass TargetType = "multiclass"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	switch t {
	case TargetBinary, TargetRegression, TargetMulticlass:
		return true
	}
	return false
}

// ThemeDefinition is the business framing captured in the first step.
type ThemeDefinition struct {
	Title        string     `json:"title"`
	Industry     *Industry  `json:"industry,omitempty"`
	UseCase      *UseCase   `json:"useCase,omitempty"`
	TargetType   TargetType `json:"targetType"`
	TargetColumn string     `json:"targetColumn,omitempty"`

	// Problem framing.
	ProblemStatement string `json:"problemStatement"`
	CurrentWorkflow  string `json:"currentWorkflow"`

	// Data and modelling.
	TargetVariable                string `json:"targetVariable"`
	DatasetDescription            string `json:"datasetDescription"`
	DataSourcesAndFeatures        string `json:"dataSourcesAndFeatures"`
	TargetGroupAndSampleSize      string `json:"targetGroupAndSampleSize"`
	BusinessApplicationConditions string `json:"businessApplicationConditions"`

	// Business application.
	OperationalWorkflow string `json:"operationalWorkflow"`
	PredictionType      string `json:"predictionType"`
	SystemIntegration   string `json:"systemIntegration"`
	CalculableImpact    string `json:"calculableImpact"`
	NonCalculableImpact string `json:"nonCalculableImpact"`

	// Owners.
	ProjectOwner         string `json:"projectOwner"`
	BusinessOwner        string `json:"businessOwner"`
	DataPreparationOwner string `json:"dataPreparationOwner"`
	ModelingOwner        string `json:"modelingOwner"`
	DecisionMaker        string `json:"decisionMaker"`
	SystemImplementer    string `json:"systemImplementer"`

	// Schedule.
	DataPreparationDeadline string `json:"dataPreparationDeadline"`
	ModelingDeadline        string `json:"modelingDeadline"`
	BusinessApplicationDate string `json:"businessApplicationDate"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t ThemeDefinition) Clone() ThemeDefinition {
	out := t
	if t.Industry != nil {
		ind := *t.Industry
		ind.UseCases = slices.Clone(t.Industry.UseCases)
		out.Industry = &ind
	}
	if t.UseCase != nil {
		uc := *t.UseCase
		out.UseCase = &uc
	}
	return out
}

// SelectIndustry sets the industry from the catalogue and clears the use
// case chosen for the previous industry.
func (t *ThemeDefinition) SelectIndustry(industryID string) bool {
	ind, ok := LookupIndustry(industryID)
	if !ok {
		return false
	}
	t.Industry = &ind
	t.UseCase = nil
	return true
}

// SelectUseCase sets the industry and use case from the catalogue and
// derives the target type from the use case.
func (t *ThemeDefinition) SelectUseCase(industryID, useCaseID string) bool {
	ind, uc, ok := LookupUseCase(industryID, useCaseID)
	if !ok {
		return false
	}
	t.Industry = &ind
	t.UseCase = &uc
	t.TargetType = uc.TargetType
	return true
}
