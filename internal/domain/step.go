// Package domain holds the AutoML wizard data model.
package domain

import "slices"

// Step is one stage of the seven-step modelling wizard.
type Step string

// Wizard steps in order.
const (
	StepTheme    Step = "theme"
	StepData     Step = "data"
	StepPrepare  Step = "prepare"
	StepBuild    Step = "build"
	StepAccuracy Step = "accuracy"
	StepTest     Step = "test"
	StepDeploy   Step = "deploy"
)

var stepOrder = []Step{
	StepTheme,
	StepData,
	StepPrepare,
	StepBuild,
	StepAccuracy,
	StepTest,
	StepDeploy,
}

// StepInfo describes a step for display.
type StepInfo struct {
	ID          Step   `json:"id"`
	Number      int    `json:"number"`
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

var stepInfos = map[Step]StepInfo{
	StepTheme:    {ID: StepTheme, Number: 1, Label: "Theme", Icon: "🎯", Description: "Theme definition"},
	StepData:     {ID: StepData, Number: 2, Label: "Data", Icon: "📊", Description: "Data preparation"},
	StepPrepare:  {ID: StepPrepare, Number: 3, Label: "Prepare", Icon: "🔧", Description: "Data shaping and EDA"},
	StepBuild:    {ID: StepBuild, Number: 4, Label: "Build", Icon: "🏗️", Description: "Model building"},
	StepAccuracy: {ID: StepAccuracy, Number: 5, Label: "Accuracy", Icon: "📈", Description: "Accuracy review"},
	StepTest:     {ID: StepTest, Number: 6, Label: "Test", Icon: "🧪", Description: "Test predictions"},
	StepDeploy:   {ID: StepDeploy, Number: 7, Label: "Deploy", Icon: "🚀", Description: "Deployment"},
}

// Steps returns the wizard steps in order.
func Steps() []Step {
	return slices.Clone(stepOrder)
}

// StepInfos returns display metadata for every step, in order.
func StepInfos() []StepInfo {
	out := make([]StepInfo, 0, len(stepOrder))
	for _, s := range stepOrder {
		out = append(out, stepInfos[s])
	}
	return out
}

// Index returns the zero-based position of s, or -1 if s is not a wizard step.
func (s Step) Index() int {
	return slices.Index(stepOrder, s)
}

// Valid reports whether s is one of the seven wizard steps.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Next returns the step after s. It returns false at the last step.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(stepOrder) {
		return s, false
	}
	return stepOrder[i+1], true
}

// Prev returns the step before s. It returns false at the first step.
func (s Step) Prev() (Step, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return stepOrder[i-1], true
}

// Info returns display metadata for s.
func (s Step) Info() (StepInfo, bool) {
	info, ok := stepInfos[s]
	return info, ok
}

// FirstStep is where every new project starts.
func FirstStep() Step { return stepOrder[0] }

// LastStep is the deployment step.
func LastStep() Step { return stepOrder[len(stepOrder)-1] }
