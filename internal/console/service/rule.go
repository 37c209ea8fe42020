package service

import (
	"context"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// RuleRepository описывает требования сервиса к хранилищу правил.
type RuleRepository interface {
	Query(ctx context.Context, f domain.RuleFilter) ([]domain.RuleWithPolicy, error)
	GetByID(ctx context.Context, id string) (*domain.RuleWithPolicy, error)
	Update(ctx context.Context, scope domain.Scope, id string, patch domain.RulePatch) (*domain.Rule, error)
	Delete(ctx context.Context, scope domain.Scope, id string) error
}

type RuleService struct {
	repo     RuleRepository
	notifier *ChangeNotifier
}

func NewRuleService(repo RuleRepository, notifier *ChangeNotifier) *RuleService {
	return &RuleService{
		repo:     repo,
		notifier: notifier,
	}
}

// List возвращает правила в пределах арендатора вызывающего.
func (s *RuleService) List(ctx context.Context, identity domain.Identity, f domain.RuleFilter) ([]domain.RuleWithPolicy, error) {
	if identity.TenantID > 0 {
		f.Scope = identity.Scope()
	}
	return s.repo.Query(ctx, f)
}

// Get возвращает правило по id с различением forbidden / not found.
// Заголовок политики-владельца наружу не отдается, он нужен только для
// проверки принадлежности.
func (s *RuleService) Get(ctx context.Context, identity domain.Identity, id string) (*domain.Rule, error) {
	rwp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if identity.TenantID > 0 && rwp.Policy.TenantID != identity.TenantID {
		return nil, &domain.ForbiddenError{Reason: "rule belongs to another tenant"}
	}
	return &rwp.Rule, nil
}

// Update применяет частичный патч: отсутствующее поле остается как было.
// Пустой патч отклоняется — это почти наверняка ошибка клиента.
func (s *RuleService) Update(ctx context.Context, identity domain.Identity, id string, patch domain.RulePatch) (*domain.Rule, error) {
	if patch.Empty() {
		return nil, domain.NewValidationError("rule", "update payload has no fields")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	rule, err := s.repo.Update(ctx, identity.Scope(), id, patch)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyRuleChange(ctx)
	return rule, nil
}

// Delete удаляет правило. Удаление последнего правила политики хранилище
// отвергает конфликтом: политика без правил — недостижимое состояние.
func (s *RuleService) Delete(ctx context.Context, identity domain.Identity, id string) error {
	if err := s.repo.Delete(ctx, identity.Scope(), id); err != nil {
		return err
	}
	s.notifier.NotifyRuleChange(ctx)
	return nil
}
