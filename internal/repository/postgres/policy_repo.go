package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

/*
Файл policy_repo.go отвечает за хранение политик и вложенных в них правил.
Политика владеет своими правилами эксклюзивно: правило существует только
строкой rules с внешним ключом на политику (ON DELETE CASCADE), отдельной
жизни у него нет.
*/

type PolicyRepo struct {
	store *Store
}

func NewPolicyRepo(store *Store) *PolicyRepo {
	return &PolicyRepo{store: store}
}

// Create сохраняет политику вместе со всеми правилами в одной транзакции
// и проставляет сгенерированные идентификаторы и таймстемпы в переданный
// объект. Валидация — забота сервисного слоя: сюда политика приходит уже
// проверенной, частичной записи не бывает.
func (r *PolicyRepo) Create(ctx context.Context, p *domain.Policy) error {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin create policy", err)
	}
	defer tx.Rollback(ctx)

	var tenantID *int
	if p.TenantID > 0 {
		tenantID = &p.TenantID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO policies (id, version, name, description, status, author, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Version, p.Name, p.Description, string(p.Status), p.Author, tenantID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapErr("insert policy", err)
	}

	for i := range p.Rules {
		rule := &p.Rules[i]
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := insertRule(ctx, tx, p.ID, rule); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit create policy", err)
	}
	return nil
}

func insertRule(ctx context.Context, tx pgx.Tx, policyID string, rule *domain.Rule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return wrapErr("encode condition", err)
	}

	var targetID *string
	if rule.Target.ID != "" {
		targetID = &rule.Target.ID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rules (id, policy_id, version, name, description, status, priority,
			target_scope, target_id, geographies, condition, action_type, author,
			marked_for_distribution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rule.ID, policyID, rule.Version, rule.Name, rule.Description, string(rule.Status),
		rule.Priority, string(rule.Target.Scope), targetID, geographiesToText(rule.Geographies),
		condition, string(rule.Action.Type), rule.Author, rule.MarkedForDistribution,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return wrapErr("insert rule", err)
	}
	return nil
}

// GetByID возвращает политику с полным набором правил без фильтра по
// арендатору: различение 403/404 по проверенной идентичности — забота
// сервисного слоя.
func (r *PolicyRepo) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	if uuid.Validate(id) != nil {
		return nil, &domain.NotFoundError{Kind: "policy", ID: id}
	}

	row := r.store.pool.QueryRow(ctx,
		"SELECT "+policyColumns+" FROM policies p WHERE p.id = $1", id)

	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "policy", ID: id}
		}
		return nil, wrapErr("get policy", err)
	}

	if err := r.attachRules(ctx, []*domain.Policy{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// List выполняет выборку политик по фильтру. Правила подгружаются вторым
// запросом и только по явному запросу (WithRules).
func (r *PolicyRepo) List(ctx context.Context, f domain.PolicyFilter) ([]domain.Policy, error) {
	query, args := buildPolicyQuery(f)

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list policies", err)
	}
	defer rows.Close()

	policies := []domain.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, wrapErr("scan policy", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list policies", err)
	}

	if f.WithRules && len(policies) > 0 {
		refs := make([]*domain.Policy, len(policies))
		for i := range policies {
			refs[i] = &policies[i]
		}
		if err := r.attachRules(ctx, refs); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// Delete удаляет политику по id с обязательной проверкой принадлежности
// арендатору. Несовпадение арендатора — forbidden, а не not found:
// вызывающий должен уметь отличить чужой объект от несуществующего.
func (r *PolicyRepo) Delete(ctx context.Context, scope domain.Scope, id string) error {
	if uuid.Validate(id) != nil {
		return &domain.NotFoundError{Kind: "policy", ID: id}
	}

	ct, err := r.store.pool.Exec(ctx, `
		DELETE FROM policies
		WHERE id = $1 AND ($2 = 0 OR tenant_id = $2)`,
		id, scope.TenantID,
	)
	if err != nil {
		return wrapErr("delete policy", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	// Ничего не удалено: различаем отсутствие объекта и чужого арендатора.
	var tenantID *int
	err = r.store.pool.QueryRow(ctx,
		"SELECT tenant_id FROM policies WHERE id = $1", id).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.NotFoundError{Kind: "policy", ID: id}
	}
	if err != nil {
		return wrapErr("classify delete policy", err)
	}
	return &domain.ForbiddenError{Reason: fmt.Sprintf("policy %s belongs to another tenant", id)}
}

// attachRules подгружает правила для набора политик одним запросом.
func (r *PolicyRepo) attachRules(ctx context.Context, policies []*domain.Policy) error {
	ids := make([]string, len(policies))
	byID := make(map[string]*domain.Policy, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.store.pool.Query(ctx, `
		SELECT r.policy_id, `+ruleColumns+`
		FROM rules r
		WHERE r.policy_id = ANY($1)
		ORDER BY r.created_at, r.id`, ids)
	if err != nil {
		return wrapErr("load rules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var policyID string
		rule, err := scanRule(rows, &policyID)
		if err != nil {
			return wrapErr("scan rule", err)
		}
		if p, ok := byID[policyID]; ok {
			p.Rules = append(p.Rules, *rule)
		}
	}
	return rows.Err()
}

// rowScanner покрывает pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*domain.Policy, error) {
	var (
		p        domain.Policy
		status   string
		tenantID *int
	)
	err := row.Scan(&p.ID, &p.Version, &p.Name, &p.Description, &status,
		&p.Author, &tenantID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.Status(status)
	if tenantID != nil {
		p.TenantID = *tenantID
	}
	return &p, nil
}

// scanRule читает строку правила; extra — дополнительные ведущие колонки
// (например, policy_id), идущие перед колонками правила.
func scanRule(row rowScanner, extra ...any) (*domain.Rule, error) {
	var (
		rule        domain.Rule
		status      string
		targetScope string
		targetID    *string
		geographies []string
		condition   []byte
		actionType  string
	)

	dest := append(extra,
		&rule.ID, &rule.Version, &rule.Name, &rule.Description, &status, &rule.Priority,
		&targetScope, &targetID, &geographies, &condition, &actionType,
		&rule.Author, &rule.MarkedForDistribution, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rule.Status = domain.Status(status)
	rule.Target.Scope = domain.TargetScope(targetScope)
	if targetID != nil {
		rule.Target.ID = *targetID
	}
	rule.Geographies = make([]domain.Geography, len(geographies))
	for i, g := range geographies {
		rule.Geographies[i] = domain.Geography(g)
	}
	rule.Action.Type = domain.ActionType(actionType)
	if err := json.Unmarshal(condition, &rule.Condition); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	return &rule, nil
}

func geographiesToText(geos []domain.Geography) []string {
	out := make([]string, len(geos))
	for i, g := range geos {
		out[i] = string(g)
	}
	return out
}
