package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/console/service"
	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

type RuleHandler struct {
	service *service.RuleService
	logger  *zap.Logger
}

func NewRuleHandler(s *service.RuleService, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{service: s, logger: logger.Named("rule_handler")}
}

// List возвращает правила, развернутые по одному на строку, с фильтрами
// и по правилу, и по политике-владельцу.
// GET /v1/rules?policy.status=&policy.author=&policy.tenantId=&name=&description=
//
//	&status=&target.scope=&target.id=&geography=&action.type=&updated_since=&with_policy=
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	f, err := parseRuleFilter(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	rules, err := h.service.List(r.Context(), id, f)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if rules == nil {
		rules = []domain.RuleWithPolicy{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// Get возвращает правило по id.
// GET /v1/rules/{id}
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	rule, err := h.service.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// Update частично обновляет правило: отсутствующие в теле поля
// сохраняют прежние значения.
// PATCH /v1/rules/{id}
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, h.logger, domain.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}

	rule, err := h.service.Update(r.Context(), id, chi.URLParam(r, "id"), patch)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// Delete удаляет правило. Последнее правило политики удалить нельзя.
// DELETE /v1/rules/{id}
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// parseRuleFilter разбирает параметры выборки правил. Имена параметров
// с точкой (policy.status, target.scope) сохранены из исходного API.
func parseRuleFilter(r *http.Request) (domain.RuleFilter, error) {
	q := r.URL.Query()
	f := domain.RuleFilter{
		PolicyStatus: domain.Status(q.Get("policy.status")),
		PolicyAuthor: q.Get("policy.author"),
		ID:           q.Get("id"),
		Name:         q.Get("name"),
		Description:  q.Get("description"),
		Status:       domain.Status(q.Get("status")),
		TargetScope:  domain.TargetScope(q.Get("target.scope")),
		TargetID:     q.Get("target.id"),
		ActionType:   domain.ActionType(q.Get("action.type")),

		// Помеченные правила добавляются к выборке по OR, см. RuleFilter
		MarkedForDistribution: parseBool(q.Get("markedForDistribution")),

		WithPolicy: parseBool(q.Get("with_policy")),
	}

	if raw := q.Get("geography"); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				f.Geographies = append(f.Geographies, domain.Geography(g))
			}
		}
	}

	if tenant := q.Get("policy.tenantId"); tenant != "" {
		n, err := strconv.Atoi(tenant)
		if err != nil || n < 0 {
			return f, domain.NewValidationError("policy.tenantId", "must be a non-negative integer")
		}
		f.Scope = domain.Scope{TenantID: n}
	}

	if raw := q.Get("updated_since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, domain.NewValidationError("updated_since", "must be an RFC 3339 timestamp")
		}
		f.UpdatedSince = &ts
	}

	return f, nil
}
