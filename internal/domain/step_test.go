package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOrder(t *testing.T) {
	t.Parallel()

	steps := Steps()
	require.Len(t, steps, 7)
	assert.Equal(t, StepTheme, steps[0])
	assert.Equal(t, StepDeploy, steps[6])

	for i, s := range steps {
		assert.Equal(t, i, s.Index(), "index of %s", s)
		info, ok := s.Info()
		require.True(t, ok)
		assert.Equal(t, i+1, info.Number)
	}

	assert.Equal(t, -1, Step("review").Index())
	assert.False(t, Step("").Valid())
}

func TestStepNeighbours(t *testing.T) {
	t.Parallel()

	next, ok := StepTheme.Next()
	assert.True(t, ok)
	assert.Equal(t, StepData, next)

	_, ok = StepDeploy.Next()
	assert.False(t, ok)

	prev, ok := StepData.Prev()
	assert.True(t, ok)
	assert.Equal(t, StepTheme, prev)

	_, ok = StepTheme.Prev()
	assert.False(t, ok)
}

func TestProjectCanGoTo(t *testing.T) {
	t.Parallel()

	p := NewProject("p1", "demo", time.Unix(0, 0))
	p.CurrentStep = StepPrepare
	p.CompletedSteps = []Step{StepTheme, StepData}

	assert.True(t, p.CanGoTo(StepTheme), "completed step")
	assert.True(t, p.CanGoTo(StepPrepare), "current step")
	assert.True(t, p.CanGoTo(StepBuild), "one past current")
	assert.False(t, p.CanGoTo(StepAccuracy), "two past current")
	assert.False(t, p.CanGoTo(Step("nope")))
}

func TestProjectReachedFallsBackForLegacyRecords(t *testing.T) {
	t.Parallel()

	p := Project{CurrentStep: StepData, CompletedSteps: []Step{StepTheme, StepBuild}}
	assert.Equal(t, StepBuild, p.Reached())

	p.FurthestStep = StepTest
	assert.Equal(t, StepTest, p.Reached())
}

func TestProjectCloneIsDeep(t *testing.T) {
	t.Parallel()

	p := NewProject("p1", "demo", time.Unix(0, 0))
	p.CompletedSteps = []Step{StepTheme}
	p.BestModel = &ModelInfo{ModelID: "m", Metrics: map[string]float64{MetricAUC: 0.9}}
	p.Dataset = &DatasetInfo{Features: []string{"a"}}
	p.Theme = &ThemeDefinition{Title: "t"}

	c := p.Clone()
	c.CompletedSteps[0] = StepDeploy
	c.BestModel.Metrics[MetricAUC] = 0.1
	c.Dataset.Features[0] = "b"
	c.Theme.Title = "changed"

	assert.Equal(t, StepTheme, p.CompletedSteps[0])
	assert.InDelta(t, 0.9, p.BestModel.Metrics[MetricAUC], 1e-9)
	assert.Equal(t, "a", p.Dataset.Features[0])
	assert.Equal(t, "t", p.Theme.Title)
}

func TestProjectJSONFieldNames(t *testing.T) {
	t.Parallel()

	p := NewProject("p1", "demo", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	p.RemoteProjectID = "dr-1"
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "name", "currentStep", "completedSteps", "status", "themeDefinition", "projectId", "bestModel", "datasetInfo", "createdAt", "updatedAt"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "theme", raw["currentStep"])
	assert.Equal(t, "draft", raw["status"])
	assert.Equal(t, []any{}, raw["completedSteps"])
}
