package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/console/service"
	"github.com/IdanMittelpunkt/UAPES/internal/domain"
	"github.com/IdanMittelpunkt/UAPES/internal/infra/auth"
)

type fakePolicyRepo struct {
	policies map[string]*domain.Policy
	created  []*domain.Policy
	lastList domain.PolicyFilter
	err      error
}

func newFakePolicyRepo() *fakePolicyRepo {
	return &fakePolicyRepo{policies: map[string]*domain.Policy{}}
}

func (f *fakePolicyRepo) Create(_ context.Context, p *domain.Policy) error {
	if f.err != nil {
		return f.err
	}
	p.ID = "p-1"
	f.created = append(f.created, p)
	return nil
}

func (f *fakePolicyRepo) GetByID(_ context.Context, id string) (*domain.Policy, error) {
	p, ok := f.policies[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "policy", ID: id}
	}
	return p, nil
}

func (f *fakePolicyRepo) List(_ context.Context, filter domain.PolicyFilter) ([]domain.Policy, error) {
	f.lastList = filter
	return nil, f.err
}

func (f *fakePolicyRepo) Delete(_ context.Context, _ domain.Scope, id string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.policies, id)
	return nil
}

type fakeRuleRepo struct {
	rules     map[string]*domain.RuleWithPolicy
	lastQuery domain.RuleFilter
	mutErr    error
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{rules: map[string]*domain.RuleWithPolicy{}}
}

func (f *fakeRuleRepo) Query(_ context.Context, filter domain.RuleFilter) ([]domain.RuleWithPolicy, error) {
	f.lastQuery = filter
	return nil, nil
}

func (f *fakeRuleRepo) GetByID(_ context.Context, id string) (*domain.RuleWithPolicy, error) {
	r, ok := f.rules[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}
	return r, nil
}

func (f *fakeRuleRepo) Update(_ context.Context, _ domain.Scope, id string, _ domain.RulePatch) (*domain.Rule, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	r, ok := f.rules[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}
	return &r.Rule, nil
}

func (f *fakeRuleRepo) Delete(_ context.Context, _ domain.Scope, id string) error {
	if f.mutErr != nil {
		return f.mutErr
	}
	if _, ok := f.rules[id]; !ok {
		return &domain.NotFoundError{Kind: "rule", ID: id}
	}
	delete(f.rules, id)
	return nil
}

// identityMiddleware подставляет фиксированную идентичность вместо
// проверки JWT, чтобы тестировать обработчики изолированно.
func identityMiddleware(id domain.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func newTestRouter(pRepo *fakePolicyRepo, rRepo *fakeRuleRepo, id domain.Identity) chi.Router {
	logger := zap.NewNop()
	notifier := service.NewChangeNotifier(nil, logger)
	ph := NewPolicyHandler(service.NewPolicyService(pRepo, notifier), logger)
	rh := NewRuleHandler(service.NewRuleService(rRepo, notifier), logger)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware(id))
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", ph.Create)
			r.Get("/", ph.List)
			r.Get("/{id}", ph.Get)
			r.Delete("/{id}", ph.Delete)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", rh.List)
			r.Get("/{id}", rh.Get)
			r.Patch("/{id}", rh.Update)
			r.Delete("/{id}", rh.Delete)
		})
	})
	return r
}

func callerIdentity() domain.Identity {
	return domain.Identity{TenantID: 15, Email: "alice@example.com"}
}

const policyJSON = `{
	"name": "baseline",
	"status": "active",
	"tenantId": 100,
	"author": "intruder@example.com",
	"rules": [{
		"name": "block-known-bad",
		"status": "active",
		"author": "intruder@example.com",
		"target": {"scope": "global"},
		"geographies": ["US"],
		"action": {"type": "deny"},
		"condition": {
			"element_type": "leaf",
			"element": {"attribute": "destination_domain", "operator": "eq", "values": ["evil.example.com"]}
		}
	}]
}`

func TestPolicyCreateOK(t *testing.T) {
	pRepo := newFakePolicyRepo()
	router := newTestRouter(pRepo, newFakeRuleRepo(), callerIdentity())

	req := httptest.NewRequest(http.MethodPost, "/policies", strings.NewReader(policyJSON))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Policy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "p-1", created.ID)
	// Арендатор и автор из токена, не из тела запроса
	assert.Equal(t, 15, created.TenantID)
	assert.Equal(t, "alice@example.com", created.Author)
}

func TestPolicyCreateBadJSON(t *testing.T) {
	router := newTestRouter(newFakePolicyRepo(), newFakeRuleRepo(), callerIdentity())

	req := httptest.NewRequest(http.MethodPost, "/policies", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicyCreateInvalidPolicy(t *testing.T) {
	router := newTestRouter(newFakePolicyRepo(), newFakeRuleRepo(), callerIdentity())

	req := httptest.NewRequest(http.MethodPost, "/policies", strings.NewReader(`{"name": "empty", "status": "active", "rules": []}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "at least one rule")
}

func TestPolicyGetStatusMapping(t *testing.T) {
	pRepo := newFakePolicyRepo()
	pRepo.policies["mine"] = &domain.Policy{ID: "mine", TenantID: 15}
	pRepo.policies["other"] = &domain.Policy{ID: "other", TenantID: 100}
	router := newTestRouter(pRepo, newFakeRuleRepo(), callerIdentity())

	cases := []struct {
		id   string
		code int
	}{
		{"mine", http.StatusOK},
		{"other", http.StatusForbidden},
		{"missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies/"+tc.id, nil))
		assert.Equal(t, tc.code, rec.Code, "id %s", tc.id)
	}
}

func TestPolicyListParsesQuery(t *testing.T) {
	pRepo := newFakePolicyRepo()
	router := newTestRouter(pRepo, newFakeRuleRepo(), callerIdentity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies?status=active&author=bob@example.com&with_rules=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusActive, pRepo.lastList.Status)
	assert.Equal(t, "bob@example.com", pRepo.lastList.Author)
	assert.True(t, pRepo.lastList.WithRules)
	// Скоуп арендатора навязан из идентичности
	assert.Equal(t, 15, pRepo.lastList.Scope.TenantID)
	// Пустая выборка сериализуется как [], не null
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestPolicyDeleteNoContent(t *testing.T) {
	pRepo := newFakePolicyRepo()
	pRepo.policies["p-1"] = &domain.Policy{ID: "p-1", TenantID: 15}
	router := newTestRouter(pRepo, newFakeRuleRepo(), callerIdentity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/policies/p-1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRuleListParsesQuery(t *testing.T) {
	rRepo := newFakeRuleRepo()
	router := newTestRouter(newFakePolicyRepo(), rRepo, callerIdentity())

	url := "/rules?policy.status=active&policy.author=bob@example.com&name=block" +
		"&status=inactive&target.scope=group&target.id=g-7&geography=US,FR" +
		"&action.type=deny&updated_since=2026-01-02T15:04:05Z&with_policy=1"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f := rRepo.lastQuery
	assert.Equal(t, domain.StatusActive, f.PolicyStatus)
	assert.Equal(t, "bob@example.com", f.PolicyAuthor)
	assert.Equal(t, "block", f.Name)
	assert.Equal(t, domain.StatusInactive, f.Status)
	assert.Equal(t, domain.TargetScopeGroup, f.TargetScope)
	assert.Equal(t, "g-7", f.TargetID)
	assert.Equal(t, []domain.Geography{domain.GeographyUS, domain.GeographyFR}, f.Geographies)
	assert.Equal(t, domain.ActionDeny, f.ActionType)
	require.NotNil(t, f.UpdatedSince)
	assert.True(t, f.WithPolicy)
	assert.Equal(t, 15, f.Scope.TenantID)
}

func TestRuleListPlatformTenantFilter(t *testing.T) {
	rRepo := newFakeRuleRepo()
	platform := domain.Identity{Email: "root@example.com"}
	router := newTestRouter(newFakePolicyRepo(), rRepo, platform)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules?policy.tenantId=7", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, rRepo.lastQuery.Scope.TenantID)
}

func TestRuleListBadTenantFilter(t *testing.T) {
	router := newTestRouter(newFakePolicyRepo(), newFakeRuleRepo(), domain.Identity{Email: "root@example.com"})

	for _, raw := range []string{"-1", "seven"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules?policy.tenantId="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
	}
}

func TestRuleListBadTimestamp(t *testing.T) {
	router := newTestRouter(newFakePolicyRepo(), newFakeRuleRepo(), callerIdentity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rules?updated_since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulePatchEmptyBody(t *testing.T) {
	router := newTestRouter(newFakePolicyRepo(), newFakeRuleRepo(), callerIdentity())

	req := httptest.NewRequest(http.MethodPatch, "/rules/r-1", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulePatchOK(t *testing.T) {
	rRepo := newFakeRuleRepo()
	rRepo.rules["r-1"] = &domain.RuleWithPolicy{
		Rule:   domain.Rule{ID: "r-1", Name: "block-known-bad"},
		Policy: &domain.PolicyHeader{ID: "p-1", TenantID: 15},
	}
	router := newTestRouter(newFakePolicyRepo(), rRepo, callerIdentity())

	req := httptest.NewRequest(http.MethodPatch, "/rules/r-1", strings.NewReader(`{"name": "renamed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRuleDeleteConflict(t *testing.T) {
	rRepo := newFakeRuleRepo()
	rRepo.mutErr = &domain.ConflictError{Reason: "policy must keep at least one rule"}
	router := newTestRouter(newFakePolicyRepo(), rRepo, callerIdentity())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rules/r-1", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMissingIdentityUnauthorized(t *testing.T) {
	// Маршрут без identity-middleware моделирует дефект роутинга
	logger := zap.NewNop()
	ph := NewPolicyHandler(service.NewPolicyService(newFakePolicyRepo(), service.NewChangeNotifier(nil, logger)), logger)

	r := chi.NewRouter()
	r.Get("/policies", ph.List)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
