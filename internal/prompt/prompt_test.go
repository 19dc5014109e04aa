package prompt

import (
	"testing"

	"github.com/ashureev/automl-assistant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEveryKind(t *testing.T) {
	t.Parallel()
	p := Params{
		Industry:         "Retail",
		UseCase:          "Demand forecasting",
		DataDescription:  "10,000 rows of weekly sales",
		TargetType:       domain.TargetRegression,
		TargetColumn:     "units_sold",
		ModelType:        "LightGBM",
		Metrics:          map[string]float64{"RMSE": 12.5, "R2": 0.87},
		DeploymentOption: "real-time API",
	}

	cases := map[Kind][]string{
		KindTheme:      {`"Demand forecasting" use case in the Retail industry`},
		KindData:       {"10,000 rows of weekly sales"},
		KindAutopilot:  {"regression problem", "Target column: units_sold"},
		KindAccuracy:   {"LightGBM model", "Metrics: R2: 0.87, RMSE: 12.5"},
		KindDeployment: {"LightGBM model with the real-time API option"},
	}
	require.Len(t, cases, len(Kinds()))

	for kind, wants := range cases {
		got, err := Render(kind, p)
		require.NoError(t, err, kind)
		for _, want := range wants {
			assert.Contains(t, got, want, kind)
		}
	}
}

func TestRenderProblemLabels(t *testing.T) {
	t.Parallel()
	for target, want := range map[domain.TargetType]string{
		domain.TargetBinary:     "binary classification",
		domain.TargetRegression: "regression",
		domain.TargetMulticlass: "multiclass classification",
	} {
		got, err := Render(KindAutopilot, Params{TargetType: target, TargetColumn: "y"})
		require.NoError(t, err)
		assert.Contains(t, got, "a "+want+" problem")
	}
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()
	_, err := Render("poem", Params{})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = Render(KindTheme, Params{Industry: "Retail"})
	require.ErrorIs(t, err, ErrMissingParam)
	assert.Contains(t, err.Error(), "useCase")

	got, err := Render(KindAccuracy, Params{ModelType: "GLM"})
	require.NoError(t, err)
	assert.Contains(t, got, "none reported")
}
