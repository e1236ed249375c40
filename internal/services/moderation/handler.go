package moderation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zentra/warden/internal/middleware"
	"github.com/zentra/warden/internal/models"
	"github.com/zentra/warden/internal/storage"
	"github.com/zentra/warden/internal/utils"
)

// ErrNotPermitted is returned by Members when the actor lacks the community
// permission an endpoint needs.
var ErrNotPermitted = errors.New("actor lacks the community permission")

// Members resolves community membership for the command surface.
type Members interface {
	RequirePermission(ctx context.Context, communityID, userID uuid.UUID, permission int64) error
	ResolveSubject(ctx context.Context, communityID, userID uuid.UUID) (models.Rank, error)
}

type Handler struct {
	executor *Executor
	ledger   storage.Ledger
	members  Members
	systemID uuid.UUID
}

func NewHandler(executor *Executor, ledger storage.Ledger, members Members, systemID uuid.UUID) *Handler {
	return &Handler{executor: executor, ledger: ledger, members: members, systemID: systemID}
}

// Routes is mounted under /communities/{id}/moderation. writeLimits wrap the
// endpoints that mutate state and run after authentication.
func (h *Handler) Routes(secret string, writeLimits ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.AuthMiddleware(secret))

	r.Group(func(r chi.Router) {
		r.Use(writeLimits...)
		r.Post("/actions", h.ApplyAction)
		r.Post("/revocations", h.Revoke)
		r.Post("/cases/{caseId}/hide", h.HideCase)
	})

	r.Get("/cases", h.ListCases)
	r.Get("/cases/{caseId}", h.GetCase)

	return r
}

type ActionRequest struct {
	Action   models.ActionType `json:"action" validate:"required,oneof=warn kick mute ban"`
	UserID   string            `json:"userId" validate:"required,uuid"`
	Reason   string            `json:"reason" validate:"max=512"`
	Duration *int64            `json:"duration" validate:"omitempty,min=1,max=31536000"` // seconds
	Force    bool              `json:"force"`
}

type RevocationRequest struct {
	Action models.ActionType `json:"action" validate:"required,oneof=unmute unban"`
	UserID string            `json:"userId" validate:"required,uuid"`
	Reason string            `json:"reason" validate:"max=512"`
}

type hideResponse struct {
	Hidden  bool   `json:"hidden"`
	Message string `json:"message"`
}

func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondValidationError(w, utils.FormatValidationErrors(err))
		return
	}

	var duration *time.Duration
	if req.Duration != nil {
		if !Timed(req.Action) {
			utils.RespondErrorWithCode(w, http.StatusBadRequest, string(CodeInvalidRequest), "This action does not take a duration")
			return
		}
		d := time.Duration(*req.Duration) * time.Second
		duration = &d
	}

	modReq, ok := h.buildRequest(w, r, req.Action, req.UserID, req.Reason)
	if !ok {
		return
	}
	modReq.Duration = duration
	modReq.Force = req.Force

	respondResult(w, h.executor.Apply(r.Context(), modReq))
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevocationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondValidationError(w, utils.FormatValidationErrors(err))
		return
	}

	modReq, ok := h.buildRequest(w, r, req.Action, req.UserID, req.Reason)
	if !ok {
		return
	}

	respondResult(w, h.executor.Revoke(r.Context(), modReq))
}

// buildRequest authorizes the actor for action and resolves every rank the
// hierarchy check needs. It writes the error response itself.
func (h *Handler) buildRequest(w http.ResponseWriter, r *http.Request, action models.ActionType, userID, reason string) (Request, bool) {
	ctx := r.Context()
	actorID, communityID, ok := h.authorize(w, r, mustPermission(action))
	if !ok {
		return Request{}, false
	}

	targetID, err := uuid.Parse(userID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return Request{}, false
	}

	actorRank, err := h.members.ResolveSubject(ctx, communityID, actorID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to resolve member")
		return Request{}, false
	}
	targetRank, err := h.members.ResolveSubject(ctx, communityID, targetID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to resolve member")
		return Request{}, false
	}
	system, err := h.system(ctx, communityID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to resolve member")
		return Request{}, false
	}

	return Request{
		Scope:           Scope{CommunityID: communityID, System: system},
		Action:          action,
		Actor:           Subject{ID: actorID, Rank: actorRank},
		Target:          Subject{ID: targetID, Rank: targetRank},
		Reason:          utils.SanitizeString(reason),
		NotifyOnFailure: true,
	}, true
}

func (h *Handler) system(ctx context.Context, communityID uuid.UUID) (Subject, error) {
	if h.systemID == uuid.Nil {
		return Subject{Rank: models.Rank{Owner: true}}, nil
	}
	rank, err := h.members.ResolveSubject(ctx, communityID, h.systemID)
	if err != nil {
		return Subject{}, err
	}
	return Subject{ID: h.systemID, Rank: rank}, nil
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, permission int64) (uuid.UUID, uuid.UUID, bool) {
	actorID, err := middleware.RequireAuth(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}

	communityID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid community ID")
		return uuid.Nil, uuid.Nil, false
	}

	if err := h.members.RequirePermission(r.Context(), communityID, actorID, permission); err != nil {
		if errors.Is(err, ErrNotPermitted) {
			utils.RespondError(w, http.StatusForbidden, "Insufficient permissions")
		} else {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to check permissions")
		}
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, communityID, true
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	_, communityID, ok := h.authorize(w, r, models.PermissionViewAuditLog)
	if !ok {
		return
	}
	caseID, err := uuid.Parse(chi.URLParam(r, "caseId"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Invalid case")
		return
	}

	entry, err := storage.Lookup(r.Context(), h.ledger, caseID, communityID)
	if err != nil {
		if errors.Is(err, storage.ErrCaseNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Invalid case")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "Failed to get case")
		return
	}

	utils.RespondSuccess(w, entry)
}

func (h *Handler) HideCase(w http.ResponseWriter, r *http.Request) {
	_, communityID, ok := h.authorize(w, r, models.PermissionModerateMembers)
	if !ok {
		return
	}
	caseID, err := uuid.Parse(chi.URLParam(r, "caseId"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Invalid case")
		return
	}

	hidden, err := h.ledger.ToggleHidden(r.Context(), caseID, communityID)
	if err != nil {
		if errors.Is(err, storage.ErrCaseNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Invalid case")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "Failed to update case")
		return
	}

	message := "Case is no longer hidden"
	if hidden {
		message = "Case is now hidden"
	}
	utils.RespondSuccess(w, hideResponse{Hidden: hidden, Message: message})
}

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	_, communityID, ok := h.authorize(w, r, models.PermissionViewAuditLog)
	if !ok {
		return
	}

	filter := models.ModLogFilter{
		CommunityID:   communityID,
		IncludeHidden: utils.GetQueryBool(r, "includeHidden", false),
		Limit:         utils.GetQueryInt(r, "limit", 50),
		Offset:        utils.GetQueryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("userId"); raw != "" {
		subjectID, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid user ID")
			return
		}
		filter.SubjectID = &subjectID
	}

	entries, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to list cases")
		return
	}

	utils.RespondSuccess(w, entries)
}

func mustPermission(action models.ActionType) int64 {
	perm, ok := RequiredPermission(action)
	if !ok {
		return models.PermissionAdministrator
	}
	return perm
}

func respondResult(w http.ResponseWriter, res Result) {
	var status int
	switch res.Code {
	case CodeSuccess, CodeSuccessNotificationFailed:
		utils.RespondCreated(w, res)
		return
	case CodePermissionDenied:
		status = http.StatusForbidden
	case CodeAlreadyReversed:
		status = http.StatusConflict
	case CodeInvalidRequest:
		status = http.StatusBadRequest
	case CodeEnforcementFailed:
		status = http.StatusBadGateway
	default:
		status = http.StatusServiceUnavailable
	}

	message := res.Message
	if message == "" {
		message = "You cannot do that."
	}
	var details any
	if res.CaseID != uuid.Nil {
		details = map[string]string{"caseId": res.CaseID.String()}
	}
	utils.RespondCoded(w, status, string(res.Code), message, details)
}
