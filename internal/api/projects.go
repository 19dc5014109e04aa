package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/automl-assistant/internal/domain"
	"github.com/ashureev/automl-assistant/internal/project"
	"github.com/go-chi/chi/v5"
)

const maxPatchBodySize = 1 << 20

// RegisterRoutes mounts the project routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/steps", h.HandleSteps)
		r.Get("/industries", h.HandleIndustries)

		r.Get("/active", h.HandleGetActive)
		r.Put("/active", h.HandleSetActive)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.HandleList)
			r.Post("/", h.HandleCreate)
			if h.watch != nil {
				r.Get("/watch", h.watch.ServeHTTP)
			}
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.HandleGet)
				r.Patch("/", h.HandlePatch)
				r.Delete("/", h.HandleDelete)
				r.Post("/advance", h.HandleAdvance)
				r.Post("/back", h.HandleBack)
				r.Post("/complete", h.HandleComplete)
				r.Post("/goto", h.HandleGoTo)
				r.Post("/industry", h.HandleSelectIndustry)
				r.Post("/use-case", h.HandleSelectUseCase)
			})
		})
	})
}

// patchRequest is the PATCH body. Step state is only accepted as a pair.
type patchRequest struct {
	Name            *string                 `json:"name"`
	Status          *domain.Status          `json:"status"`
	CurrentStep     *domain.Step            `json:"currentStep"`
	CompletedSteps  *[]domain.Step          `json:"completedSteps"`
	Theme           *domain.ThemeDefinition `json:"themeDefinition"`
	DatasetID       *string                 `json:"datasetId"`
	RemoteProjectID *string                 `json:"projectId"`
	ModelID         *string                 `json:"modelId"`
	DeploymentID    *string                 `json:"deploymentId"`
	BestModel       *domain.ModelInfo       `json:"bestModel"`
	Dataset         *domain.DatasetInfo     `json:"datasetInfo"`
}

func (req patchRequest) toPatch() (project.Patch, bool) {
	if (req.CurrentStep == nil) != (req.CompletedSteps == nil) {
		return project.Patch{}, false
	}
	p := project.Patch{
		Name:            req.Name,
		Status:          req.Status,
		Theme:           req.Theme,
		DatasetID:       req.DatasetID,
		RemoteProjectID: req.RemoteProjectID,
		ModelID:         req.ModelID,
		DeploymentID:    req.DeploymentID,
		BestModel:       req.BestModel,
		Dataset:         req.Dataset,
	}
	if req.CurrentStep != nil {
		p.Progress = &project.Progress{Current: *req.CurrentStep, Completed: *req.CompletedSteps}
	}
	return p, true
}

// mutationContext keeps request values but not cancellation, so a client
// that disconnects mid-request cannot abort the save of an applied mutation.
func mutationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxPatchBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// HandleSteps lists the workflow steps in order.
func (h *Handler) HandleSteps(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"steps": domain.StepInfos()})
}

// HandleIndustries lists the industry catalogue.
func (h *Handler) HandleIndustries(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"industries": domain.Industries()})
}

// HandleList returns every project and the active selection.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.store.Snapshot())
}

// HandleCreate creates a project and makes it active.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.store.CreateProject(mutationContext(r), req.Name)
	warn, err := warning(err)
	if err != nil {
		h.storeError(w, "create project", err)
		return
	}
	p, _ := h.store.Project(id)
	h.logger.Info("Project created", "project_id", id)
	h.writeMutation(w, http.StatusCreated, map[string]any{"project": p}, warn)
}

// HandleGet returns a single project.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.store.Project(chi.URLParam(r, "projectID"))
	if !ok {
		Error(w, http.StatusNotFound, project.ErrProjectNotFound.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"project": p})
}

// HandlePatch merges a partial update into a project.
func (h *Handler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if _, ok := h.store.Project(id); !ok {
		Error(w, http.StatusNotFound, project.ErrProjectNotFound.Error())
		return
	}

	var req patchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch, ok := req.toPatch()
	if !ok {
		Error(w, http.StatusBadRequest, "currentStep and completedSteps must be sent together")
		return
	}

	warn, err := warning(h.store.UpdateProject(mutationContext(r), id, patch))
	if err != nil {
		h.storeError(w, "update project", err)
		return
	}
	p, ok := h.store.Project(id)
	if !ok {
		Error(w, http.StatusNotFound, project.ErrProjectNotFound.Error())
		return
	}
	h.writeMutation(w, http.StatusOK, map[string]any{"project": p}, warn)
}

// HandleDelete removes a project. Deleting an unknown id succeeds.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	warn, err := warning(h.store.DeleteProject(mutationContext(r), id))
	if err != nil {
		h.storeError(w, "delete project", err)
		return
	}
	if warn != "" {
		h.writeMutation(w, http.StatusOK, map[string]any{"deleted": id}, warn)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdvance moves a project to its next step.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "advance", h.store.Advance)
}

// HandleBack moves a project to its previous step.
func (h *Handler) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "back", h.store.Back)
}

// HandleComplete finishes a project at the deploy step.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", h.store.Complete)
}

// HandleGoTo jumps to a reachable step.
func (h *Handler) HandleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step domain.Step `json:"step"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Step.Valid() {
		Error(w, http.StatusBadRequest, project.ErrInvalidStep.Error())
		return
	}
	p, err := h.store.GoTo(mutationContext(r), chi.URLParam(r, "projectID"), req.Step)
	h.writeTransition(w, "goto", p, err)
}

// HandleSelectIndustry sets the theme's industry from the catalogue and
// clears any use case picked for another industry.
func (h *Handler) HandleSelectIndustry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IndustryID string `json:"industryId"`
	}
	h.updateTheme(w, r, "select industry", &req, func(t *domain.ThemeDefinition) bool {
		return t.SelectIndustry(req.IndustryID)
	})
}

// HandleSelectUseCase sets the theme's industry and use case from the
// catalogue, deriving the target type.
func (h *Handler) HandleSelectUseCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IndustryID string `json:"industryId"`
		UseCaseID  string `json:"useCaseId"`
	}
	h.updateTheme(w, r, "select use case", &req, func(t *domain.ThemeDefinition) bool {
		return t.SelectUseCase(req.IndustryID, req.UseCaseID)
	})
}

// updateTheme decodes req, applies fn to a copy of the project's theme and
// saves the result. fn reports false for an unknown catalogue entry.
func (h *Handler) updateTheme(w http.ResponseWriter, r *http.Request, op string, req any, fn func(*domain.ThemeDefinition) bool) {
	id := chi.URLParam(r, "projectID")
	current, ok := h.store.Project(id)
	if !ok {
		Error(w, http.StatusNotFound, project.ErrProjectNotFound.Error())
		return
	}
	if !decodeBody(w, r, req) {
		return
	}

	var theme domain.ThemeDefinition
	if current.Theme != nil {
		theme = current.Theme.Clone()
	}
	if !fn(&theme) {
		Error(w, http.StatusBadRequest, "unknown industry or use case")
		return
	}

	warn, err := warning(h.store.UpdateProject(mutationContext(r), id, project.Patch{Theme: &theme}))
	if err != nil {
		h.storeError(w, op, err)
		return
	}
	p, _ := h.store.Project(id)
	h.writeMutation(w, http.StatusOK, map[string]any{"project": p}, warn)
}

// HandleGetActive returns the active project id and the project, if any.
func (h *Handler) HandleGetActive(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"activeProjectId": nil, "project": nil}
	if id := h.store.ActiveProjectID(); id != "" {
		resp["activeProjectId"] = id
	}
	if p, ok := h.store.ActiveProject(); ok {
		resp["project"] = p
	}
	JSON(w, http.StatusOK, resp)
}

// HandleSetActive switches the active project. A null or empty id clears it.
func (h *Handler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID *string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var id string
	if req.ID != nil {
		id = *req.ID
	}

	warn, err := warning(h.store.SetActiveProject(mutationContext(r), id))
	if err != nil {
		h.storeError(w, "set active project", err)
		return
	}
	var active any
	if id != "" {
		active = id
	}
	h.writeMutation(w, http.StatusOK, map[string]any{"activeProjectId": active}, warn)
}

type transitionFunc func(ctx context.Context, id string) (domain.Project, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	p, err := fn(mutationContext(r), chi.URLParam(r, "projectID"))
	h.writeTransition(w, op, p, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, op string, p domain.Project, err error) {
	warn, err := warning(err)
	if err != nil {
		h.storeError(w, op, err)
		return
	}
	h.writeMutation(w, http.StatusOK, map[string]any{"project": p}, warn)
}
