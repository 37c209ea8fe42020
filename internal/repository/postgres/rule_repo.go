package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

/*
Файл rule_repo.go — операции над правилами как самостоятельными объектами.
Агенты работают с правилами, не зная о политиках, поэтому правила читаются
и изменяются по собственному id; принадлежность арендатору проверяется
через политику-владельца. Частичное обновление выражено одним
SQL-оператором, удаление с проверкой «не последнее ли» — транзакцией с
блокировкой политики-владельца: конкурентные запросы к правилам одной
политики сериализуются базой и не теряют обновления.
*/

type RuleRepo struct {
	store *Store
}

func NewRuleRepo(store *Store) *RuleRepo {
	return &RuleRepo{store: store}
}

// Query выполняет выборку правил по фильтру (политика → unwind → правило).
func (r *RuleRepo) Query(ctx context.Context, f domain.RuleFilter) ([]domain.RuleWithPolicy, error) {
	query, args := buildRuleQuery(f)

	rows, err := r.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query rules", err)
	}
	defer rows.Close()

	out := []domain.RuleWithPolicy{}
	for rows.Next() {
		var rwp domain.RuleWithPolicy
		if f.WithPolicy {
			rule, header, err := scanRuleWithPolicy(rows)
			if err != nil {
				return nil, wrapErr("scan rule", err)
			}
			rwp = domain.RuleWithPolicy{Rule: *rule, Policy: header}
		} else {
			rule, err := scanRule(rows)
			if err != nil {
				return nil, wrapErr("scan rule", err)
			}
			rwp = domain.RuleWithPolicy{Rule: *rule}
		}
		out = append(out, rwp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query rules", err)
	}
	return out, nil
}

// GetByID возвращает правило вместе с заголовком политики-владельца.
// Заголовок нужен сервисному слою для различения 403/404.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (*domain.RuleWithPolicy, error) {
	if uuid.Validate(id) != nil {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}

	row := r.store.pool.QueryRow(ctx,
		"SELECT "+ruleColumns+", p.id, p.name, p.status, p.tenant_id"+
			" FROM policies p JOIN rules r ON r.policy_id = p.id WHERE r.id = $1", id)

	rule, header, err := scanRuleWithPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "rule", ID: id}
		}
		return nil, wrapErr("get rule", err)
	}
	return &domain.RuleWithPolicy{Rule: *rule, Policy: header}, nil
}

// Update применяет частичный патч одним UPDATE: отсутствующее в патче
// поле остается нетронутым через COALESCE. Совпадение по (id, арендатор)
// обязательно — попытка чужого арендатора не затрагивает ни одной строки
// и классифицируется как forbidden, а не как тихий успех.
func (r *RuleRepo) Update(ctx context.Context, scope domain.Scope, id string, patch domain.RulePatch) (*domain.Rule, error) {
	if uuid.Validate(id) != nil {
		return nil, &domain.NotFoundError{Kind: "rule", ID: id}
	}

	var (
		condition   []byte
		targetScope *string
		targetID    *string
		status      *string
		actionType  *string
		geographies []string
		err         error
	)
	if patch.Condition != nil {
		condition, err = json.Marshal(patch.Condition)
		if err != nil {
			return nil, wrapErr("encode condition", err)
		}
	}
	if patch.Target != nil {
		s := string(patch.Target.Scope)
		targetScope = &s
		if patch.Target.ID != "" {
			targetID = &patch.Target.ID
		}
	}
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	if patch.Action != nil {
		s := string(patch.Action.Type)
		actionType = &s
	}
	if patch.Geographies != nil {
		geographies = geographiesToText(patch.Geographies)
	}

	row := r.store.pool.QueryRow(ctx, `
		UPDATE rules r SET
			name        = COALESCE($3, r.name),
			description = COALESCE($4, r.description),
			status      = COALESCE($5, r.status),
			priority    = COALESCE($6, r.priority),
			target_scope = COALESCE($7, r.target_scope),
			target_id    = CASE WHEN $7 IS NULL THEN r.target_id ELSE $8 END,
			geographies  = COALESCE($9::text[], r.geographies),
			condition    = COALESCE($10::jsonb, r.condition),
			action_type  = COALESCE($11, r.action_type),
			updated_at   = now()
		FROM policies p
		WHERE r.id = $1 AND r.policy_id = p.id AND ($2 = 0 OR p.tenant_id = $2)
		RETURNING `+ruleColumns,
		id, scope.TenantID,
		patch.Name, patch.Description, status, patch.Priority,
		targetScope, targetID, geographies, condition, actionType,
	)

	rule, err := scanRule(row)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapErr("update rule", err)
	}

	// Ни одной строки: отличаем отсутствующее правило от чужого арендатора.
	if err := r.classifyMiss(ctx, scope, id); err != nil {
		return nil, err
	}
	return nil, wrapErr("update rule", fmt.Errorf("no rows updated for %s", id))
}

// ruleDeleteTx — подмножество pgx.Tx, нужное защищенному удалению.
type ruleDeleteTx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Delete удаляет правило, если оно не последнее в политике. Проверка
// «не останется ли политика без правил» и само удаление идут в одной
// транзакции под блокировкой строки политики-владельца: конкурентные
// удаления соседних правил сериализуются на родителе, иначе при READ
// COMMITTED оба увидели бы снимок с двумя строками, оба прошли бы
// проверку и оставили бы политику пустой.
func (r *RuleRepo) Delete(ctx context.Context, scope domain.Scope, id string) error {
	if uuid.Validate(id) != nil {
		return &domain.NotFoundError{Kind: "rule", ID: id}
	}

	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return wrapErr("delete rule", err)
	}
	defer tx.Rollback(ctx)

	if err := deleteRuleLocked(ctx, tx, scope, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("delete rule", err)
	}
	return nil
}

// deleteRuleLocked выполняет удаление под уже открытой транзакцией.
// Порядок принципиален: сперва FOR UPDATE на политике, и только потом
// подсчет соседей — счет до блокировки читал бы доблокировочный снимок.
func deleteRuleLocked(ctx context.Context, tx ruleDeleteTx, scope domain.Scope, id string) error {
	var (
		policyID string
		tenantID *int
	)
	err := tx.QueryRow(ctx, `
		SELECT p.id, p.tenant_id
		FROM policies p JOIN rules r ON r.policy_id = p.id
		WHERE r.id = $1
		FOR UPDATE OF p`, id).Scan(&policyID, &tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.NotFoundError{Kind: "rule", ID: id}
	}
	if err != nil {
		return wrapErr("delete rule", err)
	}
	if scope.Restricted() && (tenantID == nil || *tenantID != scope.TenantID) {
		return &domain.ForbiddenError{Reason: fmt.Sprintf("rule %s belongs to another tenant", id)}
	}

	// Счет идет новым оператором после захвата блокировки, поэтому видит
	// все закоммиченные удаления соседей.
	var siblings int
	if err := tx.QueryRow(ctx,
		"SELECT count(*) FROM rules WHERE policy_id = $1", policyID).Scan(&siblings); err != nil {
		return wrapErr("delete rule", err)
	}
	if siblings <= 1 {
		return &domain.ConflictError{Reason: fmt.Sprintf("rule %s is the last rule of its policy", id)}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM rules WHERE id = $1", id); err != nil {
		return wrapErr("delete rule", err)
	}
	return nil
}

// MarkForDistribution помечает активные правила активных политик со
// скоупом group и target.id из списка. Пометка обязана не выглядеть как
// изменение содержимого: updated_at не трогаем ни на правиле, ни на
// политике.
func (r *RuleRepo) MarkForDistribution(ctx context.Context, groupIDs []string) (int64, error) {
	ct, err := r.store.pool.Exec(ctx, `
		UPDATE rules r SET marked_for_distribution = true
		FROM policies p
		WHERE r.policy_id = p.id
		  AND p.status = $1 AND r.status = $1
		  AND r.target_scope = $2 AND r.target_id = ANY($3)`,
		string(domain.StatusActive), string(domain.TargetScopeGroup), groupIDs,
	)
	if err != nil {
		return 0, wrapErr("mark rules for distribution", err)
	}
	return ct.RowsAffected(), nil
}

// ClearDistributionMarks снимает флаг со всех активных правил. Снятие
// отсутствующего флага — no-op. Неактивные правила сохраняют пометку:
// реактивация должна снова привести к дистрибуции.
func (r *RuleRepo) ClearDistributionMarks(ctx context.Context) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE rules SET marked_for_distribution = false
		WHERE marked_for_distribution AND status = $1`,
		string(domain.StatusActive),
	)
	if err != nil {
		return wrapErr("clear distribution marks", err)
	}
	return nil
}

// classifyMiss объясняет, почему операция над правилом не затронула ни
// одной строки: объекта нет (404) или он принадлежит другому арендатору
// (403). nil означает «правило существует и доступно» — причину ищет
// вызывающий.
func (r *RuleRepo) classifyMiss(ctx context.Context, scope domain.Scope, id string) error {
	var tenantID *int
	err := r.store.pool.QueryRow(ctx, `
		SELECT p.tenant_id FROM rules r JOIN policies p ON r.policy_id = p.id
		WHERE r.id = $1`, id).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.NotFoundError{Kind: "rule", ID: id}
	}
	if err != nil {
		return wrapErr("classify rule miss", err)
	}
	if scope.Restricted() && (tenantID == nil || *tenantID != scope.TenantID) {
		return &domain.ForbiddenError{Reason: fmt.Sprintf("rule %s belongs to another tenant", id)}
	}
	return nil
}

func scanRuleWithPolicy(row rowScanner) (*domain.Rule, *domain.PolicyHeader, error) {
	var (
		rule        domain.Rule
		status      string
		targetScope string
		targetID    *string
		geographies []string
		condition   []byte
		actionType  string

		header       domain.PolicyHeader
		policyStatus string
		tenantID     *int
	)

	err := row.Scan(
		&rule.ID, &rule.Version, &rule.Name, &rule.Description, &status, &rule.Priority,
		&targetScope, &targetID, &geographies, &condition, &actionType,
		&rule.Author, &rule.MarkedForDistribution, &rule.CreatedAt, &rule.UpdatedAt,
		&header.ID, &header.Name, &policyStatus, &tenantID,
	)
	if err != nil {
		return nil, nil, err
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
		return nil, nil, fmt.Errorf("decode condition: %w", err)
	}

	header.Status = domain.Status(policyStatus)
	if tenantID != nil {
		header.TenantID = *tenantID
	}
	return &rule, &header, nil
}
