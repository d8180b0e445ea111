package milestones

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/platform/httpx"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Handler manages milestone, baseline and certificate endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers milestone routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/milestones", func(r chi.Router) {
		r.Post("/", h.handleCreateMilestone)
		r.Get("/{milestoneID}", h.handleGetMilestone)
		r.Get("/{milestoneID}/baselines", h.handleListBaselines)
		r.Post("/{milestoneID}/baselines", h.handleCreateBaseline)
		r.Get("/{milestoneID}/certificates", h.handleListCertificates)
		r.Post("/{milestoneID}/certificates", h.handleCreateCertificate)
	})
	r.Route("/baselines/{baselineID}", func(r chi.Router) {
		r.Get("/", h.handleGetBaseline)
		r.Post("/sign", h.handleSignBaseline)
		r.Post("/reset", h.handleResetBaseline)
	})
	r.Route("/certificates/{certificateID}", func(r chi.Router) {
		r.Get("/", h.handleGetCertificate)
		r.Post("/sign", h.handleSignCertificate)
	})
}

type createMilestoneRequest struct {
	ProjectID int64      `json:"project_id" validate:"required"`
	Name      string     `json:"name" validate:"required"`
	DueDate   *time.Time `json:"due_date"`
}

func (h *Handler) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req createMilestoneRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	milestone, err := h.service.CreateMilestone(r.Context(), userID, impersonated, CreateMilestoneInput{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		DueDate:   req.DueDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, milestone)
}

func (h *Handler) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid milestone id")
		return
	}
	milestone, err := h.service.GetMilestone(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, milestone)
}

func (h *Handler) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid milestone id")
		return
	}
	baselines, err := h.service.ListBaselines(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"baselines": baselines})
}

func (h *Handler) handleCreateBaseline(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid milestone id")
		return
	}
	baseline, err := h.service.CreateBaseline(r.Context(), userID, impersonated, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, baseline)
}

func (h *Handler) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "baselineID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid baseline id")
		return
	}
	view, err := h.service.BaselineViewFor(r.Context(), userID, impersonated, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type signRequest struct {
	Side          string `json:"side" validate:"required,oneof=supplier customer"`
	AssumedStatus string `json:"assumed_status"`
}

func (h *Handler) handleSignBaseline(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "baselineID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid baseline id")
		return
	}
	var req signRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	baseline, err := h.service.SignBaseline(r.Context(), userID, impersonated, SignBaselineInput{
		BaselineID:    id,
		Side:          workflow.Side(req.Side),
		AssumedStatus: workflow.Status(req.AssumedStatus),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, baseline)
}

func (h *Handler) handleResetBaseline(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "baselineID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid baseline id")
		return
	}
	baseline, err := h.service.ResetBaseline(r.Context(), userID, impersonated, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("baseline reset", slog.String("baseline_id", id.String()), slog.Int64("user_id", userID))
	httpx.JSON(w, http.StatusOK, baseline)
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid milestone id")
		return
	}
	certs, err := h.service.ListCertificates(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

type createCertificateRequest struct {
	Title string `json:"title" validate:"required"`
}

func (h *Handler) handleCreateCertificate(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid milestone id")
		return
	}
	var req createCertificateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cert, err := h.service.CreateCertificate(r.Context(), userID, impersonated, id, req.Title)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cert)
}

func (h *Handler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "certificateID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid certificate id")
		return
	}
	cert, err := h.service.GetCertificate(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cert)
}

func (h *Handler) handleSignCertificate(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "certificateID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid certificate id")
		return
	}
	var req signRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cert, err := h.service.SignCertificate(r.Context(), userID, impersonated, SignCertificateInput{
		CertificateID: id,
		Side:          workflow.Side(req.Side),
		AssumedStatus: workflow.Status(req.AssumedStatus),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cert)
}
