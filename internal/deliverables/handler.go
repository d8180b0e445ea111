package deliverables

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pm/meridian-pm/internal/platform/httpx"
	"github.com/meridian-pm/meridian-pm/internal/projects"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Handler manages deliverable endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers deliverable routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/deliverables", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Route("/{deliverableID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)
			r.Post("/start", h.edge(workflow.DeliverableNotStarted, workflow.DeliverableInProgress))
			r.Post("/submit", h.handleSubmit)
			r.Post("/review/accept", h.edge(workflow.DeliverableSubmitted, workflow.DeliverableReviewComplete))
			r.Post("/review/reject", h.edge(workflow.DeliverableSubmitted, workflow.DeliverableReturned))
			r.Post("/rework", h.edge(workflow.DeliverableReturned, workflow.DeliverableInProgress))
			r.Post("/deliver", h.edge(workflow.DeliverableReviewComplete, workflow.DeliverableDelivered))
			r.Post("/sign", h.handleSign)
		})
	})
}

func deliverableID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "deliverableID"))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "project_id query parameter required")
		return
	}
	items, err := h.service.List(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliverables": items})
}

type createRequest struct {
	ProjectID   int64  `json:"project_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.Create(r.Context(), userID, impersonated, CreateInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := deliverableID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid deliverable id")
		return
	}
	view, err := h.service.ViewFor(r.Context(), userID, impersonated, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := deliverableID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid deliverable id")
		return
	}
	if err := h.service.Delete(r.Context(), userID, impersonated, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Note string `json:"note"`
}

// edge builds a handler for one fixed lifecycle edge. The from-status
// doubles as the caller's assumed snapshot for stale detection.
func (h *Handler) edge(from, to workflow.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, impersonated, err := projects.CurrentUser(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		id, err := deliverableID(r)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid deliverable id")
			return
		}
		var req transitionRequest
		_ = httpx.DecodeJSON(r, &req)
		d, err := h.service.Transition(r.Context(), userID, impersonated, TransitionInput{
			ID:   id,
			From: from,
			To:   to,
			Note: req.Note,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, d)
	}
}

type submitRequest struct {
	From string `json:"from" validate:"omitempty,oneof=IN_PROGRESS RETURNED_FOR_MORE_WORK"`
	Note string `json:"note"`
}

// handleSubmit accepts submission from either pre-review status; the
// caller names which one it saw.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := deliverableID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid deliverable id")
		return
	}
	var req submitRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	from := workflow.Status(req.From)
	if from == "" {
		from = workflow.DeliverableInProgress
	}
	d, err := h.service.Transition(r.Context(), userID, impersonated, TransitionInput{
		ID:   id,
		From: from,
		To:   workflow.DeliverableSubmitted,
		Note: req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type signRequest struct {
	Side          string `json:"side" validate:"required,oneof=supplier customer"`
	AssumedStatus string `json:"assumed_status"`
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := deliverableID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid deliverable id")
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
	d, err := h.service.Sign(r.Context(), userID, impersonated, SignInput{
		ID:            id,
		Side:          workflow.Side(req.Side),
		AssumedStatus: workflow.Status(req.AssumedStatus),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("deliverable signed", slog.String("deliverable_id", id.String()), slog.String("side", req.Side))
	httpx.JSON(w, http.StatusOK, d)
}
