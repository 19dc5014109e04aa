// Package prompt renders the canned assistant requests offered at each
// wizard step.
package prompt

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"

	"github.com/ashureev/automl-assistant/internal/domain"
)

// Kind names a prompt template.
type Kind string

const (
	KindTheme      Kind = "theme"
	KindData       Kind = "data"
	KindAutopilot  Kind = "autopilot"
	KindAccuracy   Kind = "accuracy"
	KindDeployment Kind = "deployment"
)

var (
	// ErrUnknownKind is returned for a kind with no template.
	ErrUnknownKind = errors.New("unknown prompt kind")
	// ErrMissingParam is returned when a required parameter is empty.
	ErrMissingParam = errors.New("missing prompt parameter")
)

// Params carries the values a template may use. Each kind reads a subset.
type Params struct {
	Industry         string             `json:"industry,omitempty"`
	UseCase          string             `json:"useCase,omitempty"`
	DataDescription  string             `json:"dataDescription,omitempty"`
	TargetType       domain.TargetType  `json:"targetType,omitempty"`
	TargetColumn     string             `json:"targetColumn,omitempty"`
	ModelType        string             `json:"modelType,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	DeploymentOption string             `json:"deploymentOption,omitempty"`
}

type definition struct {
	required func(Params) []string
	tmpl     *template.Template
}

var funcs = template.FuncMap{
	"problem": problemLabel,
	"metrics": formatMetrics,
}

func parse(kind Kind, text string) *template.Template {
	return template.Must(template.New(string(kind)).Funcs(funcs).Parse(text))
}

var definitions = map[Kind]definition{
	KindTheme: {
		required: func(p Params) []string { return missing("industry", p.Industry, "useCase", p.UseCase) },
		tmpl: parse(KindTheme, `Help me define an AI project theme for the "{{.UseCase}}" use case in the {{.Industry}} industry. Please advise on:
1. Clarifying the problem to solve
2. Identifying the data required
3. Choosing the target variable
4. The expected business impact`),
	},
	KindData: {
		required: func(p Params) []string { return missing("dataDescription", p.DataDescription) },
		tmpl: parse(KindData, `Help me prepare the following data for modeling:
{{.DataDescription}}

Please give concrete advice on data cleansing, feature engineering and data partitioning.`),
	},
	KindAutopilot: {
		required: func(p Params) []string { return missing("targetColumn", p.TargetColumn) },
		tmpl: parse(KindAutopilot, `Help me configure Autopilot for a {{problem .TargetType}} problem.
Target column: {{.TargetColumn}}

Please advise on the best optimization metric and modeling settings.`),
	},
	KindAccuracy: {
		required: func(p Params) []string { return missing("modelType", p.ModelType) },
		tmpl: parse(KindAccuracy, `Please interpret the accuracy results of the {{.ModelType}} model.
Metrics: {{metrics .Metrics}}

Is this accuracy good enough for business use, or is there room for improvement?`),
	},
	KindDeployment: {
		required: func(p Params) []string {
			return missing("modelType", p.ModelType, "deploymentOption", p.DeploymentOption)
		},
		tmpl: parse(KindDeployment, `What should I watch out for when deploying the {{.ModelType}} model with the {{.DeploymentOption}} option?
Please also cover what to consider for production operation, such as monitoring, retraining and scaling.`),
	},
}

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return slices.Sorted(maps.Keys(definitions))
}

// Render builds the prompt text for kind.
func Render(kind Kind, p Params) (string, error) {
	s, ok := definitions[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if names := s.required(p); len(names) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, strings.Join(names, ", "))
	}
	var b strings.Builder
	if err := s.tmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return b.String(), nil
}

// missing takes name/value pairs and returns the names whose value is blank.
func missing(pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, pairs[i])
		}
	}
	return out
}

func problemLabel(t domain.TargetType) string {
	switch t {
	case domain.TargetBinary:
		return "binary classification"
	case domain.TargetRegression:
		return "regression"
	default:
		return "multiclass classification"
	}
}

func formatMetrics(m map[string]float64) string {
	if len(m) == 0 {
		return "none reported"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s: %g", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
