//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/automl-assistant/internal/domain"
	"github.com/ashureev/automl-assistant/internal/project"
	"github.com/ashureev/automl-assistant/internal/store"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type apiFixture struct {
	persister *store.MemoryPersister
	store     *project.Store
	router    http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	p := store.NewMemory()
	n := 0
	s, err := project.Open(context.Background(), p, project.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("p%d", n)
	}))
	if err != nil {
		t.Fatalf("project.Open failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(s, logger)
	h.SetWatch(NewWatchHandler(s, "", true, logger))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &apiFixture{persister: p, store: s, router: r}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeProject(t *testing.T, w *httptest.ResponseRecorder) domain.Project {
	t.Helper()
	var body struct {
		Project domain.Project `json:"project"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode project: %v", err)
	}
	return body.Project
}

func TestCreateAndGetProject(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/projects", `{"name":"Churn"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeProject(t, w)
	if created.ID != "p1" || created.Name != "Churn" || created.CurrentStep != domain.StepTheme {
		t.Fatalf("Unexpected project %+v", created)
	}
	if w.Header().Get(PersistenceWarningHeader) != "" {
		t.Fatal("No warning expected on a healthy store")
	}

	w = f.do(http.MethodGet, "/api/projects/p1", "")
	if w.Code != http.StatusOK || decodeProject(t, w).Name != "Churn" {
		t.Fatalf("Unexpected get response %d", w.Code)
	}

	if w := f.do(http.MethodGet, "/api/projects/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/api/projects", "")
	var snap project.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if len(snap.Projects) != 1 || snap.ActiveProjectID == nil || *snap.ActiveProjectID != "p1" {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}
}

func TestPatchProject(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"rename", `{"name":"B"}`, http.StatusOK},
		{"progress", `{"currentStep":"data","completedSteps":["theme"]}`, http.StatusOK},
		{"current without completed", `{"currentStep":"data"}`, http.StatusBadRequest},
		{"invalid step", `{"currentStep":"train","completedSteps":[]}`, http.StatusBadRequest},
		{"unvisited step", `{"currentStep":"data","completedSteps":["deploy"]}`, http.StatusBadRequest},
		{"invalid status", `{"status":"archived"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := f.do(http.MethodPatch, "/api/projects/p1", tc.body); w.Code != tc.want {
				t.Fatalf("Expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}

	p, _ := f.store.Project("p1")
	if p.Name != "B" || p.CurrentStep != domain.StepData {
		t.Fatalf("Unexpected project after patches %+v", p)
	}

	if w := f.do(http.MethodPatch, "/api/projects/missing", `{"name":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestStepTransitions(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)

	w := f.do(http.MethodPost, "/api/projects/p1/advance", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	p := decodeProject(t, w)
	if p.CurrentStep != domain.StepData || p.Status != domain.StatusInProgress {
		t.Fatalf("Unexpected project after advance %+v", p)
	}

	if w := f.do(http.MethodPost, "/api/projects/p1/goto", `{"step":"build"}`); w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for unreachable step, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/projects/p1/goto", `{"step":"nope"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid step, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/projects/p1/complete", ""); w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 before the final step, got %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/projects/p1/back", "")
	if decodeProject(t, w).CurrentStep != domain.StepTheme {
		t.Fatal("Expected back to return to theme")
	}

	if w := f.do(http.MethodPost, "/api/projects/missing/advance", ""); w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestDeleteAndActive(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)
	f.do(http.MethodPost, "/api/projects", `{"name":"B"}`)

	w := f.do(http.MethodPut, "/api/active", `{"id":"p1"}`)
	if w.Code != http.StatusOK || f.store.ActiveProjectID() != "p1" {
		t.Fatalf("Unexpected set active response %d", w.Code)
	}

	w = f.do(http.MethodGet, "/api/active", "")
	var active struct {
		ActiveProjectID *string         `json:"activeProjectId"`
		Project         *domain.Project `json:"project"`
	}
	if err := json.NewDecoder(w.Body).Decode(&active); err != nil {
		t.Fatalf("Failed to decode active: %v", err)
	}
	if active.Project == nil || active.Project.Name != "A" {
		t.Fatalf("Unexpected active project %+v", active)
	}

	if w := f.do(http.MethodDelete, "/api/projects/p1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if f.store.ActiveProjectID() != "" {
		t.Fatal("Deleting the active project must clear the selection")
	}
	if w := f.do(http.MethodDelete, "/api/projects/p1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("Deleting an unknown id must succeed, got %d", w.Code)
	}

	f.do(http.MethodPut, "/api/active", `{"id":"p2"}`)
	f.do(http.MethodPut, "/api/active", `{"id":null}`)
	if f.store.ActiveProjectID() != "" {
		t.Fatal("A null id must clear the selection")
	}
}

func TestPersistenceWarning(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)
	f.persister.FailSaves(true)

	w := f.do(http.MethodPatch, "/api/projects/p1", `{"name":"B"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get(PersistenceWarningHeader) == "" {
		t.Fatal("Expected persistence warning header")
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["warning"] == nil {
		t.Fatalf("Expected warning field, got %v", body)
	}
	if p, _ := f.store.Project("p1"); p.Name != "B" {
		t.Fatal("Mutation must stay applied in memory")
	}

	if w := f.do(http.MethodDelete, "/api/projects/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with warning on delete, got %d", w.Code)
	}
}

func TestSelectUseCase(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)

	w := f.do(http.MethodPost, "/api/projects/p1/use-case", `{"industryId":"retail","useCaseId":"demand"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p := decodeProject(t, w)
	if p.Theme == nil || p.Theme.TargetType != domain.TargetRegression {
		t.Fatalf("Expected regression target, got %+v", p.Theme)
	}

	if w := f.do(http.MethodPost, "/api/projects/p1/use-case", `{"industryId":"retail","useCaseId":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestCatalogRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/steps", "")
	var steps struct {
		Steps []domain.StepInfo `json:"steps"`
	}
	if err := json.NewDecoder(w.Body).Decode(&steps); err != nil {
		t.Fatalf("Failed to decode steps: %v", err)
	}
	if len(steps.Steps) != 7 {
		t.Fatalf("Expected 7 steps, got %d", len(steps.Steps))
	}

	w = f.do(http.MethodGet, "/api/industries", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"retail"`) {
		t.Fatalf("Unexpected industries response %d", w.Code)
	}
}

func TestSelectIndustryClearsUseCase(t *testing.T) {
	f := newAPIFixture(t)
	f.do(http.MethodPost, "/api/projects", `{"name":"A"}`)
	f.do(http.MethodPost, "/api/projects/p1/use-case", `{"industryId":"retail","useCaseId":"demand"}`)

	w := f.do(http.MethodPost, "/api/projects/p1/industry", `{"industryId":"finance"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	p := decodeProject(t, w)
	if p.Theme == nil || p.Theme.Industry == nil || p.Theme.Industry.ID != "finance" {
		t.Fatalf("Expected finance industry, got %+v", p.Theme)
	}
	if p.Theme.UseCase != nil {
		t.Fatalf("Expected use case cleared, got %+v", p.Theme.UseCase)
	}

	if w := f.do(http.MethodPost, "/api/projects/p1/industry", `{"industryId":"nope"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/projects/p9/industry", `{"industryId":"finance"}`); w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

// ctxPersister fails saves whose context is already done.
type ctxPersister struct {
	*store.MemoryPersister
}

func (p ctxPersister) Save(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.MemoryPersister.Save(ctx, blob)
}

func TestMutationSurvivesClientDisconnect(t *testing.T) {
	mem := store.NewMemory()
	s, err := project.Open(context.Background(), ctxPersister{mem})
	if err != nil {
		t.Fatalf("project.Open failed: %v", err)
	}
	h := NewHandler(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"name":"A"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if warn := w.Header().Get(PersistenceWarningHeader); warn != "" {
		t.Fatalf("Expected no persistence warning, got %q", warn)
	}
	if mem.Saves() != 1 {
		t.Fatalf("Expected 1 save, got %d", mem.Saves())
	}
}
