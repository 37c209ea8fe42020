package domain

import "time"

// StateTypeRuleLastDistribution — тип singleton-записи состояния,
// хранящей водяной знак последней успешной дистрибуции правил.
const StateTypeRuleLastDistribution = "rule_last_distribution"

// State — запись состояния, одна на тип. UpdatedAt записи типа
// rule_last_distribution служит нижней границей следующего запроса
// изменений.
type State struct {
	Type      string    `json:"type"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleWithPolicy — строка выборки правил с заголовком политики-владельца
// (результат разворачивания связи Policy→Rule).
type RuleWithPolicy struct {
	Rule
	Policy *PolicyHeader `json:"policy,omitempty"`
}

// PolicyHeader — усеченная проекция политики для вложения в выдачу правил.
type PolicyHeader struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   Status `json:"status"`
	TenantID int    `json:"tenantId,omitempty"`
}
