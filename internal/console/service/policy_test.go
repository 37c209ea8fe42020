package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

type fakePolicyRepo struct {
	created   []*domain.Policy
	policies  map[string]*domain.Policy
	lastList  domain.PolicyFilter
	lastScope domain.Scope
	deleted   []string
	err       error
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
	if f.err != nil {
		return nil, f.err
	}
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

func (f *fakePolicyRepo) Delete(_ context.Context, scope domain.Scope, id string) error {
	f.lastScope = scope
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func testNotifier() *ChangeNotifier {
	return NewChangeNotifier(nil, zap.NewNop())
}

func tenantIdentity() domain.Identity {
	return domain.Identity{TenantID: 15, Email: "alice@example.com"}
}

func servicePolicy() *domain.Policy {
	return &domain.Policy{
		Name:     "baseline",
		Status:   domain.StatusActive,
		TenantID: 100,
		Author:   "intruder@example.com",
		Rules: []domain.Rule{
			{
				Name:        "block-known-bad",
				Status:      domain.StatusActive,
				Author:      "intruder@example.com",
				Target:      domain.Target{Scope: domain.TargetScopeGlobal},
				Geographies: []domain.Geography{domain.GeographyUS},
				Action:      domain.Action{Type: domain.ActionDeny},
				Condition: domain.ConditionElement{
					ElementType: domain.ElementTypeLeaf,
					Leaf: &domain.ConditionLeaf{
						Attribute: domain.AttributeDestinationDomain,
						Operator:  domain.OperatorEq,
						Values:    []string{"evil.example.com"},
					},
				},
			},
		},
	}
}

func TestPolicyServiceCreateOverridesOwner(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	created, err := svc.Create(context.Background(), tenantIdentity(), servicePolicy())
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	// Идентичность вызывающего побеждает любые значения из тела запроса.
	assert.Equal(t, 15, created.TenantID)
	assert.Equal(t, "alice@example.com", created.Author)
	for _, r := range created.Rules {
		assert.Equal(t, "alice@example.com", r.Author)
	}
}

func TestPolicyServiceCreateRejectsInvalid(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	p := servicePolicy()
	p.Rules = nil

	_, err := svc.Create(context.Background(), tenantIdentity(), p)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, repo.created)
}

func TestPolicyServiceListForcesTenantScope(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	_, err := svc.List(context.Background(), tenantIdentity(), domain.PolicyFilter{
		Scope: domain.Scope{TenantID: 999},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, repo.lastList.Scope.TenantID)
}

func TestPolicyServiceListPlatformAdminKeepsFilter(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	_, err := svc.List(context.Background(), domain.Identity{}, domain.PolicyFilter{
		Scope: domain.Scope{TenantID: 42},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, repo.lastList.Scope.TenantID)
}

func TestPolicyServiceGetByIDCrossTenantForbidden(t *testing.T) {
	repo := newFakePolicyRepo()
	repo.policies["p-1"] = &domain.Policy{ID: "p-1", TenantID: 100}
	svc := NewPolicyService(repo, testNotifier())

	_, err := svc.GetByID(context.Background(), tenantIdentity(), "p-1")
	var ferr *domain.ForbiddenError
	require.ErrorAs(t, err, &ferr)
}

func TestPolicyServiceGetByIDNotFound(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	_, err := svc.GetByID(context.Background(), tenantIdentity(), "missing")
	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestPolicyServiceDeletePassesScope(t *testing.T) {
	repo := newFakePolicyRepo()
	svc := NewPolicyService(repo, testNotifier())

	require.NoError(t, svc.Delete(context.Background(), tenantIdentity(), "p-1"))
	assert.Equal(t, 15, repo.lastScope.TenantID)
	assert.Equal(t, []string{"p-1"}, repo.deleted)
}
