package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// fakeDeleteTx покрывает контракт защищенного удаления: порядок
// операторов и ветвления 404/403/409 без живого Postgres.
type fakeDeleteTx struct {
	statements []string

	lockErr      error
	lockTenantID *int
	siblings     int
	deleted      []string
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func (f *fakeDeleteTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.statements = append(f.statements, sql)

	if strings.Contains(sql, "FOR UPDATE") {
		return fakeRow{scan: func(dest ...any) error {
			if f.lockErr != nil {
				return f.lockErr
			}
			*dest[0].(*string) = "p-1"
			*dest[1].(**int) = f.lockTenantID
			return nil
		}}
	}
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int) = f.siblings
		return nil
	}}
}

func (f *fakeDeleteTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	f.deleted = append(f.deleted, args[0].(string))
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func intPtr(v int) *int { return &v }

func TestDeleteRuleLockedLocksParentBeforeCounting(t *testing.T) {
	tx := &fakeDeleteTx{lockTenantID: intPtr(15), siblings: 2}

	err := deleteRuleLocked(context.Background(), tx, domain.Scope{TenantID: 15}, "r-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, tx.deleted)

	// Блокировка родителя обязана предшествовать подсчету соседей:
	// счет до захвата читал бы снимок, в котором сосед еще жив.
	require.Len(t, tx.statements, 3)
	assert.Contains(t, tx.statements[0], "FOR UPDATE OF p")
	assert.Contains(t, tx.statements[1], "count(*)")
	assert.Contains(t, tx.statements[2], "DELETE FROM rules")
}

func TestDeleteRuleLockedLastRuleConflict(t *testing.T) {
	tx := &fakeDeleteTx{lockTenantID: intPtr(15), siblings: 1}

	err := deleteRuleLocked(context.Background(), tx, domain.Scope{TenantID: 15}, "r-1")
	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, tx.deleted)
}

func TestDeleteRuleLockedMissing(t *testing.T) {
	tx := &fakeDeleteTx{lockErr: pgx.ErrNoRows}

	err := deleteRuleLocked(context.Background(), tx, domain.Scope{TenantID: 15}, "r-1")
	var nfe *domain.NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Empty(t, tx.deleted)
}

func TestDeleteRuleLockedCrossTenantForbidden(t *testing.T) {
	tx := &fakeDeleteTx{lockTenantID: intPtr(100), siblings: 2}

	err := deleteRuleLocked(context.Background(), tx, domain.Scope{TenantID: 15}, "r-1")
	var ferr *domain.ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Empty(t, tx.deleted)
}

func TestDeleteRuleLockedPlatformAdminBypassesTenantCheck(t *testing.T) {
	tx := &fakeDeleteTx{lockTenantID: intPtr(100), siblings: 3}

	err := deleteRuleLocked(context.Background(), tx, domain.Scope{}, "r-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1"}, tx.deleted)
}
