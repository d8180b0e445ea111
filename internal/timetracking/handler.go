package timetracking

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

// Handler manages timesheet and expense endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers timetracking routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/timesheets", func(r chi.Router) {
		r.Get("/", h.handleListTimesheets)
		r.Post("/", h.handleCreateTimesheet)
		r.Route("/{sheetID}", func(r chi.Router) {
			r.Post("/submit", h.timesheetEdge(workflow.SheetDraft, workflow.SheetSubmitted))
			r.Post("/validate", h.timesheetEdge(workflow.SheetSubmitted, workflow.SheetValidated))
			r.Post("/reject", h.timesheetEdge(workflow.SheetSubmitted, workflow.SheetRejected))
			r.Post("/reopen", h.timesheetEdge(workflow.SheetRejected, workflow.SheetDraft))
		})
	})
	r.Route("/expenses", func(r chi.Router) {
		r.Get("/", h.handleListExpenses)
		r.Post("/", h.handleCreateExpense)
		r.Route("/{expenseID}", func(r chi.Router) {
			r.Get("/", h.handleGetExpense)
			r.Post("/submit", h.expenseEdge(workflow.SheetDraft, workflow.SheetSubmitted))
			r.Post("/validate", h.expenseEdge(workflow.SheetSubmitted, workflow.SheetValidated))
			r.Post("/reject", h.expenseEdge(workflow.SheetSubmitted, workflow.SheetRejected))
			r.Post("/reopen", h.expenseEdge(workflow.SheetRejected, workflow.SheetDraft))
		})
	})
}

func projectIDQuery(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	return id, err == nil && id > 0
}

type createTimesheetRequest struct {
	ProjectID int64     `json:"project_id" validate:"required"`
	WeekStart time.Time `json:"week_start" validate:"required"`
	Hours     float64   `json:"hours" validate:"required,gt=0"`
	Note      string    `json:"note"`
}

func (h *Handler) handleCreateTimesheet(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req createTimesheetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	t, err := h.service.CreateTimesheet(r.Context(), userID, impersonated, CreateTimesheetInput{
		ProjectID: req.ProjectID,
		WeekStart: req.WeekStart,
		Hours:     req.Hours,
		Note:      req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) handleListTimesheets(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDQuery(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "project_id query parameter required")
		return
	}
	items, err := h.service.ListTimesheets(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timesheets": items})
}

func (h *Handler) timesheetEdge(from, to workflow.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, impersonated, err := projects.CurrentUser(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "sheetID"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid timesheet id")
			return
		}
		t, err := h.service.TransitionTimesheet(r.Context(), userID, impersonated, id, from, to)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

type createExpenseRequest struct {
	ProjectID    int64  `json:"project_id" validate:"required"`
	Description  string `json:"description" validate:"required"`
	AmountCents  int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
	IsChargeable bool   `json:"is_chargeable"`
}

func (h *Handler) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := projects.CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req createExpenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	e, err := h.service.CreateExpense(r.Context(), userID, impersonated, CreateExpenseInput{
		ProjectID:    req.ProjectID,
		Description:  req.Description,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		IsChargeable: req.IsChargeable,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "expenseID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid expense id")
		return
	}
	e, err := h.service.GetExpense(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	projectID, ok := projectIDQuery(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "project_id query parameter required")
		return
	}
	items, err := h.service.ListExpenses(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": items})
}

func (h *Handler) expenseEdge(from, to workflow.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, impersonated, err := projects.CurrentUser(r)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "expenseID"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid expense id")
			return
		}
		e, err := h.service.TransitionExpense(r.Context(), userID, impersonated, id, from, to)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.logger.Debug("expense transition", slog.String("expense_id", id.String()), slog.String("to", string(to)))
		httpx.JSON(w, http.StatusOK, e)
	}
}
