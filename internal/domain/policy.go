package domain

import (
	"fmt"
	"strings"
	"time"
)

// Policy — контейнер правил, принадлежащий ровно одному арендатору.
// TenantID == 0 означает платформенный уровень (глобальная политика).
// Политика без правил — невалидное состояние, недостижимое ни через
// создание, ни через удаление правил.
type Policy struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Author      string    `json:"author"`
	TenantID    int       `json:"tenantId,omitempty"`
	Rules       []Rule    `json:"rules,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Normalize приводит политику и все её правила к каноническому виду.
func (p *Policy) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Author = strings.ToLower(strings.TrimSpace(p.Author))
	if p.Version == 0 {
		p.Version = 1
	}
	for i := range p.Rules {
		p.Rules[i].Normalize()
	}
}

// Validate проверяет поля политики и рекурсивно каждое правило.
func (p *Policy) Validate() error {
	if p.Version < 1 {
		return NewValidationError("policy.version", "must be >= 1")
	}
	if p.Name == "" {
		return NewValidationError("policy.name", "is required")
	}
	if len(p.Name) > NameMaxLength {
		return NewValidationError("policy.name", fmt.Sprintf("must be at most %d characters", NameMaxLength))
	}
	if len(p.Description) > DescriptionMaxLength {
		return NewValidationError("policy.description", fmt.Sprintf("must be at most %d characters", DescriptionMaxLength))
	}
	if p.Status != StatusActive && p.Status != StatusInactive {
		return NewValidationError("policy.status", fmt.Sprintf("must be %s or %s", StatusActive, StatusInactive))
	}
	if !emailPattern.MatchString(p.Author) {
		return NewValidationError("policy.author", fmt.Sprintf("%q is not a valid email address", p.Author))
	}
	if p.TenantID < 0 {
		return NewValidationError("policy.tenantId", "must not be negative")
	}
	if len(p.Rules) == 0 {
		return NewValidationError("policy.rules", "policy must have at least one rule")
	}
	for i := range p.Rules {
		if err := p.Rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SetOwner перезаписывает арендатора и автора политики и каждого правила
// значениями из проверенной идентичности вызывающего. Значения, присланные
// клиентом, отбрасываются — это граница безопасности, а не дефолт.
func (p *Policy) SetOwner(identity Identity) {
	p.TenantID = identity.TenantID
	p.Author = strings.ToLower(strings.TrimSpace(identity.Email))
	for i := range p.Rules {
		p.Rules[i].Author = p.Author
	}
}
