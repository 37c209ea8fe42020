package service

import (
	"context"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// PolicyRepository описывает требования сервиса к хранилищу политик.
type PolicyRepository interface {
	Create(ctx context.Context, p *domain.Policy) error
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	List(ctx context.Context, f domain.PolicyFilter) ([]domain.Policy, error)
	Delete(ctx context.Context, scope domain.Scope, id string) error
}

type PolicyService struct {
	repo     PolicyRepository
	notifier *ChangeNotifier
}

func NewPolicyService(repo PolicyRepository, notifier *ChangeNotifier) *PolicyService {
	return &PolicyService{
		repo:     repo,
		notifier: notifier,
	}
}

// Create валидирует и сохраняет политику. tenantId и author кандидата
// перезаписываются из проверенной идентичности вызывающего до валидации —
// клиентские значения этих полей не имеют силы. Ошибка валидации означает
// отсутствие какой-либо записи.
func (s *PolicyService) Create(ctx context.Context, identity domain.Identity, p *domain.Policy) (*domain.Policy, error) {
	p.Normalize()
	p.SetOwner(identity)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.NotifyRuleChange(ctx)
	return p, nil
}

// List возвращает политики в пределах арендатора вызывающего.
// Платформенный администратор видит всё и может дополнительно сузить
// выборку до конкретного арендатора через фильтр.
func (s *PolicyService) List(ctx context.Context, identity domain.Identity, f domain.PolicyFilter) ([]domain.Policy, error) {
	if identity.TenantID > 0 {
		f.Scope = identity.Scope()
	}
	return s.repo.List(ctx, f)
}

// GetByID возвращает политику по id. Чужой арендатор получает forbidden,
// несуществующий id — not found: исходы различимы намеренно.
func (s *PolicyService) GetByID(ctx context.Context, identity domain.Identity, id string) (*domain.Policy, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if identity.TenantID > 0 && p.TenantID != identity.TenantID {
		return nil, &domain.ForbiddenError{Reason: "policy belongs to another tenant"}
	}
	return p, nil
}

// Delete удаляет политику в пределах арендатора вызывающего.
func (s *PolicyService) Delete(ctx context.Context, identity domain.Identity, id string) error {
	if err := s.repo.Delete(ctx, identity.Scope(), id); err != nil {
		return err
	}
	s.notifier.NotifyRuleChange(ctx)
	return nil
}
