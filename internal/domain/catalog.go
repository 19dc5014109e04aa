package domain

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed industries.yaml
var industriesYAML []byte

// UseCase is a canned modelling scenario within an industry.
type UseCase struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	TargetType  TargetType `json:"target_type" yaml:"target_type"`
	Description string     `json:"description" yaml:"description"`
}

// Industry groups use cases for the theme step.
type Industry struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Emoji    string    `json:"emoji" yaml:"emoji"`
	UseCases []UseCase `json:"use_cases" yaml:"use_cases"`
}

type catalogDoc struct {
	Industries []Industry `yaml:"industries"`
}

var loadCatalog = sync.OnceValues(func() ([]Industry, error) {
	return parseCatalog(industriesYAML)
})

func parseCatalog(data []byte) ([]Industry, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse industry catalogue: %w", err)
	}
	for _, ind := range doc.Industries {
		if ind.ID == "" {
			return nil, fmt.Errorf("industry %q has no id", ind.Name)
		}
		for _, uc := range ind.UseCases {
			if !uc.TargetType.Valid() {
				return nil, fmt.Errorf("use case %s/%s: unknown target type %q", ind.ID, uc.ID, uc.TargetType)
			}
		}
	}
	return doc.Industries, nil
}

// Industries returns the built-in industry catalogue.
func Industries() []Industry {
	list, err := loadCatalog()
	if err != nil {
		// The catalogue is compiled in; a parse failure is a build defect.
		panic(err)
	}
	out := make([]Industry, len(list))
	for i, ind := range list {
		out[i] = ind
		out[i].UseCases = slices.Clone(ind.UseCases)
	}
	return out
}

// LookupIndustry finds an industry by id.
func LookupIndustry(industryID string) (Industry, bool) {
	for _, ind := range Industries() {
		if ind.ID == industryID {
			return ind, true
		}
	}
	return Industry{}, false
}

// LookupUseCase finds a use case by industry and use case id.
func LookupUseCase(industryID, useCaseID string) (Industry, UseCase, bool) {
	for _, ind := range Industries() {
		if ind.ID != industryID {
			continue
		}
		for _, uc := range ind.UseCases {
			if uc.ID == useCaseID {
				return ind, uc, true
			}
		}
		return Industry{}, UseCase{}, false
	}
	return Industry{}, UseCase{}, false
}
