package domain

import "time"

// PolicyFilter — необязательные критерии выборки политик.
// Все заданные критерии соединяются по AND.
type PolicyFilter struct {
	Scope  Scope
	ID     string
	Status Status // "" — любой
	Author string

	// WithRules включает вложенные правила в проекцию. По умолчанию
	// правила исключены, чтобы не раздувать ответ списком поддокументов.
	WithRules bool
}

// RuleFilter — критерии выборки правил через связь Policy→Rule:
// сперва фильтруются политики-владельцы, затем правила разворачиваются
// по одному на строку и фильтруются сами.
type RuleFilter struct {
	Scope        Scope
	PolicyStatus Status
	PolicyAuthor string

	ID          string
	Name        string // подстрока/регэксп
	Description string // подстрока/регэксп
	Status      Status
	TargetScope TargetScope
	TargetID    string
	Geographies []Geography // совпадение при любом пересечении множеств
	ActionType  ActionType

	// UpdatedSince — нижняя граница updatedAt, включительно.
	UpdatedSince *time.Time

	// MarkedForDistribution объединяется с остальными правиловыми
	// критериями (кроме статусов) по OR: правило могло не измениться с
	// прошлой дистрибуции, но быть помеченным явно.
	MarkedForDistribution bool

	// WithPolicy добавляет к каждому правилу заголовок политики-владельца.
	WithPolicy bool
}

// RulePatch — частичное обновление правила: nil-поле оставляет
// сохраненное значение нетронутым.
type RulePatch struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *Status           `json:"status,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	Target      *Target           `json:"target,omitempty"`
	Geographies []Geography       `json:"geographies,omitempty"`
	Condition   *ConditionElement `json:"condition,omitempty"`
	Action      *Action           `json:"action,omitempty"`
}

// Validate проверяет только присланные поля патча.
func (p *RulePatch) Validate() error {
	if p.Name != nil {
		if *p.Name == "" {
			return NewValidationError("rule.name", "is required")
		}
		if len(*p.Name) > NameMaxLength {
			return NewValidationError("rule.name", "too long")
		}
	}
	if p.Description != nil && len(*p.Description) > DescriptionMaxLength {
		return NewValidationError("rule.description", "too long")
	}
	if p.Status != nil && *p.Status != StatusActive && *p.Status != StatusInactive {
		return NewValidationError("rule.status", "unknown status")
	}
	if p.Priority != nil && *p.Priority < 1 {
		return NewValidationError("rule.priority", "must be >= 1")
	}
	if p.Target != nil {
		if err := p.Target.validate(); err != nil {
			return err
		}
	}
	if p.Geographies != nil {
		if len(p.Geographies) == 0 {
			return NewValidationError("rule.geographies", "must have at least one geography")
		}
		for _, g := range p.Geographies {
			if _, ok := validGeographies[g]; !ok {
				return NewValidationError("rule.geographies", "unknown geography")
			}
		}
	}
	if p.Condition != nil {
		if err := p.Condition.Validate(); err != nil {
			return err
		}
	}
	if p.Action != nil && p.Action.Type != ActionAllow && p.Action.Type != ActionDeny {
		return NewValidationError("rule.action.type", "unknown action")
	}
	return nil
}

// Empty сообщает, что патч не содержит ни одного поля.
func (p *RulePatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Target == nil && p.Geographies == nil &&
		p.Condition == nil && p.Action == nil
}
