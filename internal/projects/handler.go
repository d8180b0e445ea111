package projects

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pm/meridian-pm/internal/authz"
	"github.com/meridian-pm/meridian-pm/internal/platform/httpx"
	"github.com/meridian-pm/meridian-pm/internal/shared"
	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Handler manages project endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Route("/{projectID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Get("/overview", h.handleOverview)
		r.Get("/role", h.handleRole)
		r.Get("/members", h.handleListMembers)
		r.Post("/members", h.handleAddMember)
		r.Delete("/members/{userID}", h.handleRemoveMember)
		r.Get("/settings", h.handleListSettings)
		r.Put("/settings/{entityType}", h.handleUpdateSetting)
		r.Put("/features/{feature}", h.handleUpdateFeature)
	})
}

// CurrentUser extracts the authenticated user ID and the session's
// impersonated role, failing when there is no login.
func CurrentUser(r *http.Request) (int64, authz.Role, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return 0, "", shared.ErrInvalidCredentials
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return 0, "", shared.ErrInvalidCredentials
	}
	return userID, authz.Role(sess.ImpersonatedRole()), nil
}

func projectIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, _, err := CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	items, err := h.service.ListProjects(r.Context(), userID)
	if err != nil {
		h.logger.Error("list projects", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projects": items})
}

type createProjectRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	SupplierOrgID int64  `json:"supplier_org_id" validate:"required"`
	CustomerOrgID int64  `json:"customer_org_id" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _, err := CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req createProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	project, err := h.service.CreateProject(r.Context(), CreateProjectInput{
		Code:          req.Code,
		Name:          req.Name,
		SupplierOrgID: req.SupplierOrgID,
		CustomerOrgID: req.CustomerOrgID,
		CreatedBy:     userID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, project)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return
	}
	project, err := h.service.GetProject(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return
	}
	overview, err := h.service.Overview(r.Context(), projectID)
	if err != nil {
		h.logger.Error("project overview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

// handleRole returns the actor's resolved role on the project. The
// actual role is what the UI displays; the effective role drives
// authorization and differs only while impersonating.
func (h *Handler) handleRole(w http.ResponseWriter, r *http.Request) {
	userID, impersonated, err := CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return
	}
	_, resolved, err := h.service.Resolve(r.Context(), userID, projectID, impersonated)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"actual_role":      resolved.ActualRole,
		"effective_role":   resolved.Effective,
		"full_admin":       resolved.HasFullAdminCapabilities,
		"is_impersonating": resolved.IsImpersonating,
	})
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return
	}
	members, err := h.service.ListMembers(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": members})
}

type addMemberRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	projectID, resolved, ok := h.requireFullAdmin(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AddMember(r.Context(), projectID, req.UserID, authz.Role(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("member added",
		slog.Int64("project_id", projectID),
		slog.Int64("user_id", req.UserID),
		slog.String("role", req.Role),
		slog.String("by_role", string(resolved.ActualRole)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireFullAdmin(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := h.service.RemoveMember(r.Context(), projectID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return
	}
	matrix, err := h.service.Matrix(r.Context(), projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	// Render the full matrix with defaults applied so clients never
	// have to re-implement the fallback rules.
	rules := make(map[authz.EntityType]map[string]any, len(authz.EntityTypes()))
	for _, et := range authz.EntityTypes() {
		rule := matrix.Rules[et]
		rules[et] = map[string]any{
			"required":       rule.Required,
			"authority":      matrix.Authority(et),
			"dual_signature": matrix.RequiresDualSignature(et),
		}
	}
	features := make(map[authz.Feature]bool)
	for _, f := range []authz.Feature{
		authz.FeatureBaselines, authz.FeatureVariations, authz.FeatureCertificates,
		authz.FeatureDeliverables, authz.FeatureTimesheets, authz.FeatureExpenses,
	} {
		features[f] = matrix.FeatureEnabled(f)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": rules, "features": features})
}

type updateSettingRequest struct {
	Required      bool   `json:"required"`
	Authority     string `json:"authority" validate:"required"`
	DualSignature bool   `json:"dual_signature"`
}

func (h *Handler) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	projectID, resolved, ok := h.requireFullAdmin(w, r)
	if !ok {
		return
	}
	var req updateSettingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	userID, _, _ := CurrentUser(r)
	err := h.service.UpdateSetting(r.Context(), projectID, userID, SettingInput{
		EntityType:    authz.EntityType(chi.URLParam(r, "entityType")),
		Required:      req.Required,
		Authority:     authz.AuthorityMode(req.Authority),
		DualSignature: req.DualSignature,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("setting updated",
		slog.Int64("project_id", projectID),
		slog.String("entity_type", chi.URLParam(r, "entityType")),
		slog.Bool("impersonating", resolved.IsImpersonating))
	w.WriteHeader(http.StatusNoContent)
}

type updateFeatureRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	projectID, _, ok := h.requireFullAdmin(w, r)
	if !ok {
		return
	}
	var req updateFeatureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	userID, _, _ := CurrentUser(r)
	feature := authz.Feature(chi.URLParam(r, "feature"))
	if err := h.service.UpdateFeature(r.Context(), projectID, userID, feature, req.Enabled); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireFullAdmin resolves the actor against the project and rejects
// the request unless full administrative capability is present.
func (h *Handler) requireFullAdmin(w http.ResponseWriter, r *http.Request) (int64, authz.EffectiveRole, bool) {
	userID, impersonated, err := CurrentUser(r)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return 0, authz.EffectiveRole{}, false
	}
	projectID, err := projectIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid project id")
		return 0, authz.EffectiveRole{}, false
	}
	_, resolved, err := h.service.Resolve(r.Context(), userID, projectID, impersonated)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, authz.EffectiveRole{}, false
	}
	if !resolved.HasFullAdminCapabilities {
		httpx.RespondError(w, fmt.Errorf("%w: administrative capability required", workflow.ErrUnauthorized))
		return 0, authz.EffectiveRole{}, false
	}
	return projectID, resolved, true
}
