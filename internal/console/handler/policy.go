package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/console/service"
	"github.com/IdanMittelpunkt/UAPES/internal/domain"
	"github.com/IdanMittelpunkt/UAPES/internal/infra/auth"
)

type PolicyHandler struct {
	service *service.PolicyService
	logger  *zap.Logger
}

func NewPolicyHandler(s *service.PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{service: s, logger: logger.Named("policy_handler")}
}

// identity достает проверенную идентичность из контекста запроса.
// Маршруты без auth-middleware сюда не ведут, отсутствие — дефект роутинга.
func identity(r *http.Request) (domain.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return domain.Identity{}, &domain.UnauthorizedError{Reason: "no identity in request context"}
	}
	return id, nil
}

// Create создает политику вместе со всеми правилами.
// POST /v1/policies
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, h.logger, domain.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}

	created, err := h.service.Create(r.Context(), id, &p)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List возвращает политики арендатора вызывающего.
// GET /v1/policies?status=&author=&with_rules=
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	f := domain.PolicyFilter{
		ID:        q.Get("id"),
		Status:    domain.Status(q.Get("status")),
		Author:    q.Get("author"),
		WithRules: parseBool(q.Get("with_rules")),
	}
	if tenant := q.Get("tenant_id"); tenant != "" {
		n, err := strconv.Atoi(tenant)
		if err != nil || n < 0 {
			respondError(w, h.logger, domain.NewValidationError("tenant_id", "must be a non-negative integer"))
			return
		}
		f.Scope = domain.Scope{TenantID: n}
	}

	policies, err := h.service.List(r.Context(), id, f)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if policies == nil {
		policies = []domain.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// Get возвращает политику по id вместе с правилами.
// GET /v1/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	p, err := h.service.GetByID(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete удаляет политику и каскадно все её правила.
// DELETE /v1/policies/{id}
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if err := h.service.Delete(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseBool трактует любое из "1", "true", "yes" как истину.
// Исходный API принимал флаги в таком свободном виде.
func parseBool(s string) bool {
	switch s {
	case "1", "true", "yes":
		return true
	}
	return false
}
