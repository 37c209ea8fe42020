package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status — жизненный статус политики или правила.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// TargetScope — субъект, к которому применяется действие правила.
type TargetScope string

const (
	TargetScopeUser   TargetScope = "user"
	TargetScopeGroup  TargetScope = "group"
	TargetScopeTenant TargetScope = "tenant"
	TargetScopeGlobal TargetScope = "global"
)

// ActionType — вердикт правила.
type ActionType string

const (
	ActionAllow ActionType = "allow"
	ActionDeny  ActionType = "deny"
)

// Geography — география действия правила.
type Geography string

const (
	GeographyUS Geography = "US"
	GeographyCA Geography = "CA"
	GeographyFR Geography = "FR"
	GeographyIT Geography = "IT"
	GeographyDE Geography = "DE"
)

const (
	NameMaxLength        = 100
	DescriptionMaxLength = 1000
)

var validGeographies = map[Geography]struct{}{
	GeographyUS: {}, GeographyCA: {}, GeographyFR: {}, GeographyIT: {}, GeographyDE: {},
}

// Скоупы, требующие идентифицированного субъекта (target.id обязателен).
var scopesWithID = map[TargetScope]struct{}{
	TargetScopeUser:  {},
	TargetScopeGroup: {},
}

// emailPattern — проверка адреса автора (регэксп с emailregex.com,
// тот же, что использовался в исходной схеме).
var emailPattern = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)

// Target определяет субъект правила: скоуп и, для user/group, идентификатор.
type Target struct {
	Scope TargetScope `json:"scope"`
	ID    string      `json:"id,omitempty"`
}

// Action — действие правила (allow/deny).
type Action struct {
	Type ActionType `json:"type"`
}

// Rule — единица логики политики. Живет только внутри Policy, но имеет
// собственную идентичность: агенты работают с правилами, не зная о политиках.
type Rule struct {
	ID          string      `json:"id"`
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      Status      `json:"status"`
	Priority    int         `json:"priority"`
	Target      Target      `json:"target"`
	Geographies []Geography `json:"geographies"`
	Condition   ConditionElement `json:"condition"`
	Action      Action      `json:"action"`
	Author      string      `json:"author"`

	// MarkedForDistribution — внеполосный флаг: правило обязано попасть в
	// следующую дистрибуцию, хотя само оно не менялось (например, внешне
	// изменился состав группы из target.id). Выставление флага не трогает
	// UpdatedAt.
	MarkedForDistribution bool `json:"markedForDistribution,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Normalize приводит поля к каноническому виду перед валидацией.
func (r *Rule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Author = strings.ToLower(strings.TrimSpace(r.Author))
	r.Target.ID = strings.TrimSpace(r.Target.ID)
	if r.Version == 0 {
		r.Version = 1
	}
	if r.Priority == 0 {
		r.Priority = 1
	}
}

// Validate проверяет все структурные инварианты правила.
func (r *Rule) Validate() error {
	if r.Version < 1 {
		return NewValidationError("rule.version", "must be >= 1")
	}
	if r.Name == "" {
		return NewValidationError("rule.name", "is required")
	}
	if len(r.Name) > NameMaxLength {
		return NewValidationError("rule.name", fmt.Sprintf("must be at most %d characters", NameMaxLength))
	}
	if len(r.Description) > DescriptionMaxLength {
		return NewValidationError("rule.description", fmt.Sprintf("must be at most %d characters", DescriptionMaxLength))
	}
	if r.Status != StatusActive && r.Status != StatusInactive {
		return NewValidationError("rule.status", fmt.Sprintf("must be %s or %s", StatusActive, StatusInactive))
	}
	if r.Priority < 1 {
		return NewValidationError("rule.priority", "must be >= 1")
	}
	if err := r.Target.validate(); err != nil {
		return err
	}
	if len(r.Geographies) == 0 {
		return NewValidationError("rule.geographies", "must have at least one geography")
	}
	for _, g := range r.Geographies {
		if _, ok := validGeographies[g]; !ok {
			return NewValidationError("rule.geographies", fmt.Sprintf("unknown geography %q", g))
		}
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	if r.Action.Type != ActionAllow && r.Action.Type != ActionDeny {
		return NewValidationError("rule.action.type", fmt.Sprintf("must be %s or %s", ActionAllow, ActionDeny))
	}
	if !emailPattern.MatchString(r.Author) {
		return NewValidationError("rule.author", fmt.Sprintf("%q is not a valid email address", r.Author))
	}
	return nil
}

func (t *Target) validate() error {
	switch t.Scope {
	case TargetScopeUser, TargetScopeGroup, TargetScopeTenant, TargetScopeGlobal:
	default:
		return NewValidationError("rule.target.scope", fmt.Sprintf("unknown scope %q", t.Scope))
	}

	// target.id обязателен ровно тогда, когда скоуп требует
	// идентифицированного субъекта.
	if _, needsID := scopesWithID[t.Scope]; needsID {
		if t.ID == "" {
			return NewValidationError("rule.target.id", fmt.Sprintf("is required for scope %q", t.Scope))
		}
	}
	return nil
}
