package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bobarin/reelforge/internal/director"
	"github.com/bobarin/reelforge/internal/models"
	"github.com/bobarin/reelforge/internal/providers"
	"github.com/bobarin/reelforge/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Store is the persistence surface the handlers use.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, ownerID string, id uuid.UUID) (*models.Project, error)
	SaveProjectPlan(ctx context.Context, ownerID string, id uuid.UUID, plan *models.Plan) error
	ApprovePlan(ctx context.Context, ownerID string, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetOwnedJob(ctx context.Context, ownerID string, id uuid.UUID) (*models.Job, error)
	RequestCancel(ctx context.Context, ownerID string, id uuid.UUID) error

	UpsertCredential(ctx context.Context, ownerID string, capability providers.Capability, cred *providers.Credential) error
	GetCredentials(ctx context.Context, ownerID string) (map[providers.Capability]*providers.Credential, error)
}

// Timers arms the wake-up for newly created or cancelled jobs.
type Timers interface {
	ArmAt(ctx context.Context, jobID uuid.UUID, at time.Time) error
}

type Handler struct {
	store   Store
	timers  Timers
	factory providers.Factory
}

func NewHandler(store Store, timers Timers, factory providers.Factory) *Handler {
	return &Handler{store: store, timers: timers, factory: factory}
}

const defaultTargetDuration = 30

// CreateProject handles POST /api/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Concept == "" {
		respondError(w, http.StatusBadRequest, "Concept is required")
		return
	}
	if req.TargetDuration == 0 {
		req.TargetDuration = defaultTargetDuration
	}
	if req.TargetDuration < 0 {
		respondError(w, http.StatusBadRequest, "Target duration must be positive")
		return
	}
	if req.AspectRatio == "" {
		req.AspectRatio = models.AspectLandscape
	}
	if !req.AspectRatio.Valid() {
		respondError(w, http.StatusBadRequest, "Unknown aspect ratio: "+string(req.AspectRatio))
		return
	}
	if msg := req.Config.Validate(); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	project := &models.Project{
		ID:             uuid.New(),
		OwnerID:        ownerFrom(r.Context()),
		Name:           req.Name,
		Concept:        req.Concept,
		Style:          req.Style,
		TargetDuration: req.TargetDuration,
		AspectRatio:    req.AspectRatio,
		Providers:      req.Config,
	}

	if err := h.store.CreateProject(r.Context(), project); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	respondJSON(w, http.StatusCreated, models.Envelope{Success: true, Data: project})
}

// GetProject handles GET /api/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, models.Envelope{Success: true, Data: project})
}

// directResult pairs a plan with its upfront cost estimate.
type directResult struct {
	Plan *models.Plan           `json:"plan"`
	Cost director.CostBreakdown `json:"cost"`
}

// DirectPlan handles POST /api/projects/{id}/direct
func (h *Handler) DirectPlan(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}

	var constraints *director.Constraints
	if r.ContentLength > 0 {
		var body struct {
			Constraints *director.Constraints `json:"constraints"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		constraints = body.Constraints
	}

	bundle, ok := h.buildBundle(w, r, project)
	if !ok {
		return
	}

	style := ""
	if project.Style != nil {
		style = *project.Style
	}
	plan, err := director.New(bundle.Text).Direct(r.Context(), director.Request{
		Concept:        project.Concept,
		Style:          style,
		TargetDuration: project.TargetDuration,
		AspectRatio:    project.AspectRatio,
		Constraints:    constraints,
	})
	if err != nil {
		respondDirectionError(w, err)
		return
	}

	if err := h.store.SaveProjectPlan(r.Context(), project.OwnerID, project.ID, plan); err != nil {
		respondStoreError(w, err, "Failed to save plan")
		return
	}

	respondJSON(w, http.StatusOK, models.Envelope{
		Success: true,
		Data:    directResult{Plan: plan, Cost: director.EstimateCost(plan, bundle)},
	})
}

// RefinePlan handles POST /api/projects/{id}/refine
func (h *Handler) RefinePlan(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if project.Plan == nil {
		respondError(w, http.StatusConflict, "Project has no plan to refine")
		return
	}

	var req models.RefineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Feedback == "" {
		respondError(w, http.StatusBadRequest, "Feedback is required")
		return
	}

	bundle, ok := h.buildBundle(w, r, project)
	if !ok {
		return
	}

	plan, err := director.New(bundle.Text).Refine(r.Context(), project.Plan, req.Feedback)
	if err != nil {
		respondDirectionError(w, err)
		return
	}

	if err := h.store.SaveProjectPlan(r.Context(), project.OwnerID, project.ID, plan); err != nil {
		respondStoreError(w, err, "Failed to save plan")
		return
	}

	respondJSON(w, http.StatusOK, models.Envelope{
		Success: true,
		Data:    directResult{Plan: plan, Cost: director.EstimateCost(plan, bundle)},
	})
}

// ApprovePlan handles POST /api/projects/{id}/approve
func (h *Handler) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.store.ApprovePlan(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		respondStoreError(w, err, "Failed to approve plan")
		return
	}
	respondJSON(w, http.StatusOK, models.Envelope{Success: true})
}

// Generate handles POST /api/projects/{id}/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	if project.Plan == nil || !project.PlanApproved {
		respondError(w, http.StatusConflict, "Plan must be approved before generation")
		return
	}

	job := models.NewJobFromPlan(project)
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}
	if err := h.timers.ArmAt(r.Context(), job.ID, time.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to schedule job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.Envelope{
		Success: true,
		Data:    models.GenerateResponse{JobID: job.ID},
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, err := h.store.GetOwnedJob(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		respondStoreError(w, err, "Failed to get job")
		return
	}
	respondJSON(w, http.StatusOK, models.Envelope{Success: true, Data: job.Snapshot()})
}

// CancelJob handles POST /api/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.store.RequestCancel(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		respondStoreError(w, err, "Failed to cancel job")
		return
	}
	// Wake the job promptly so the flag is honored without waiting out the
	// current poll interval.
	if err := h.timers.ArmAt(r.Context(), id, time.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to schedule cancellation")
		return
	}
	respondJSON(w, http.StatusAccepted, models.Envelope{Success: true})
}

// PutCredential handles PUT /api/credentials/{capability}
func (h *Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	capability := providers.Capability(chi.URLParam(r, "capability"))
	switch capability {
	case providers.CapabilityText, providers.CapabilityImage, providers.CapabilityVideo, providers.CapabilityCompile:
	default:
		respondError(w, http.StatusBadRequest, "Unknown capability: "+string(capability))
		return
	}

	var cred providers.Credential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cred.Token == "" {
		respondError(w, http.StatusBadRequest, "Token is required")
		return
	}

	if err := h.store.UpsertCredential(r.Context(), ownerFrom(r.Context()), capability, &cred); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store credential")
		return
	}
	respondJSON(w, http.StatusOK, models.Envelope{Success: true})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) loadProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}

	project, err := h.store.GetProject(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		respondStoreError(w, err, "Failed to get project")
		return nil, false
	}
	return project, true
}

func (h *Handler) buildBundle(w http.ResponseWriter, r *http.Request, project *models.Project) (*providers.Bundle, bool) {
	creds, err := h.store.GetCredentials(r.Context(), project.OwnerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load credentials")
		return nil, false
	}
	bundle, err := providers.BuildBundle(h.factory, project.Providers, creds)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return bundle, true
}

func respondStoreError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	respondError(w, http.StatusInternalServerError, fallback)
}

// respondDirectionError maps a director failure: plan rejections carry the
// violation detail at 400, provider failures surface as 502.
func respondDirectionError(w http.ResponseWriter, err error) {
	var verr *director.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusBadRequest, models.Envelope{
			Success: false,
			Error:   verr.Error(),
			Data:    verr,
		})
		return
	}
	respondError(w, http.StatusBadGateway, "Plan generation failed")
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.Envelope{Success: false, Error: message})
}
