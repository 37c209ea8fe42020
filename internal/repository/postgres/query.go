package postgres

import (
	"fmt"
	"strings"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

/*
Файл query.go переводит необязательные критерии фильтрации в SQL.
Реляционное прочтение mongo-пайплайна match→unwind→match→project:
фильтр по политикам — WHERE по policies, unwind — JOIN rules (строка на
правило), фильтр по правилам — WHERE по rules, проекция — список колонок.
*/

const policyColumns = `p.id, p.version, p.name, p.description, p.status, p.author, p.tenant_id, p.created_at, p.updated_at`

const ruleColumns = `r.id, r.version, r.name, r.description, r.status, r.priority,
	r.target_scope, r.target_id, r.geographies, r.condition, r.action_type,
	r.author, r.marked_for_distribution, r.created_at, r.updated_at`

// argList накапливает позиционные аргументы запроса.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

// buildPolicyQuery строит выборку политик. Все критерии соединяются по AND.
func buildPolicyQuery(f domain.PolicyFilter) (string, []any) {
	var (
		al    argList
		conds []string
	)

	if f.Scope.Restricted() {
		conds = append(conds, "p.tenant_id = "+al.add(f.Scope.TenantID))
	}
	if f.ID != "" {
		conds = append(conds, "p.id = "+al.add(f.ID))
	}
	if f.Status != "" {
		conds = append(conds, "p.status = "+al.add(string(f.Status)))
	}
	if f.Author != "" {
		conds = append(conds, "p.author = "+al.add(f.Author))
	}

	q := "SELECT " + policyColumns + " FROM policies p"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY p.created_at, p.id"
	return q, al.args
}

// buildRuleQuery строит выборку правил через политику-владельца.
//
// Критерии уровня политики и статус правила всегда соединяются по AND.
// Флаг MarkedForDistribution объединяется с остальными правиловыми
// критериями по OR: помеченное правило попадает в выдачу, даже если не
// проходит фильтр по времени изменения. Статус намеренно остается вне
// OR-группы — неактивное правило не должно попасть в набор кандидатов
// дистрибуции, какой бы флаг на нем ни стоял.
func buildRuleQuery(f domain.RuleFilter) (string, []any) {
	var (
		al        argList
		andConds  []string
		ruleConds []string
	)

	// match по политике-владельцу
	if f.Scope.Restricted() {
		andConds = append(andConds, "p.tenant_id = "+al.add(f.Scope.TenantID))
	}
	if f.PolicyStatus != "" {
		andConds = append(andConds, "p.status = "+al.add(string(f.PolicyStatus)))
	}
	if f.PolicyAuthor != "" {
		andConds = append(andConds, "p.author = "+al.add(f.PolicyAuthor))
	}
	if f.Status != "" {
		andConds = append(andConds, "r.status = "+al.add(string(f.Status)))
	}

	// match по самому правилу (OR-группа при флаге дистрибуции)
	if f.ID != "" {
		ruleConds = append(ruleConds, "r.id = "+al.add(f.ID))
	}
	if f.Name != "" {
		ruleConds = append(ruleConds, "r.name ~ "+al.add(f.Name))
	}
	if f.Description != "" {
		ruleConds = append(ruleConds, "r.description ~ "+al.add(f.Description))
	}
	if f.TargetScope != "" {
		ruleConds = append(ruleConds, "r.target_scope = "+al.add(string(f.TargetScope)))
	}
	if f.TargetID != "" {
		ruleConds = append(ruleConds, "r.target_id = "+al.add(f.TargetID))
	}
	if len(f.Geographies) > 0 {
		geos := make([]string, len(f.Geographies))
		for i, g := range f.Geographies {
			geos[i] = string(g)
		}
		ruleConds = append(ruleConds, "r.geographies && "+al.add(geos))
	}
	if f.ActionType != "" {
		ruleConds = append(ruleConds, "r.action_type = "+al.add(string(f.ActionType)))
	}
	if f.UpdatedSince != nil {
		ruleConds = append(ruleConds, "r.updated_at >= "+al.add(*f.UpdatedSince))
	}

	switch {
	case f.MarkedForDistribution && len(ruleConds) > 0:
		andConds = append(andConds, "("+strings.Join(ruleConds, " AND ")+" OR r.marked_for_distribution)")
	case f.MarkedForDistribution:
		andConds = append(andConds, "r.marked_for_distribution")
	default:
		andConds = append(andConds, ruleConds...)
	}

	cols := ruleColumns
	if f.WithPolicy {
		cols += ", p.id, p.name, p.status, p.tenant_id"
	}

	q := "SELECT " + cols + " FROM policies p JOIN rules r ON r.policy_id = p.id"
	if len(andConds) > 0 {
		q += " WHERE " + strings.Join(andConds, " AND ")
	}
	q += " ORDER BY r.created_at, r.id"
	return q, al.args
}
