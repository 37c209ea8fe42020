package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// Тип записи-аренды, сериализующей прогоны дистрибуции между процессами.
const stateTypeDistributionLock = "rule_distribution_lock"

// StateRepo хранит singleton-записи состояния: водяной знак последней
// дистрибуции и аренду прогона. Аренда — условная запись owner+expiry,
// чтобы перекрывающиеся срабатывания планировщика выстраивались в
// очередь, а не гонялись.
type StateRepo struct {
	store *Store
}

func NewStateRepo(store *Store) *StateRepo {
	return &StateRepo{store: store}
}

// Get возвращает запись состояния по типу.
func (r *StateRepo) Get(ctx context.Context, stateType string) (*domain.State, error) {
	var s domain.State
	err := r.store.pool.QueryRow(ctx,
		"SELECT type, updated_at FROM states WHERE type = $1", stateType).
		Scan(&s.Type, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "state", ID: stateType}
	}
	if err != nil {
		return nil, wrapErr("get state", err)
	}
	return &s, nil
}

// Upsert создает запись при первом прогоне и продвигает её таймстемп в
// каждом следующем.
func (r *StateRepo) Upsert(ctx context.Context, stateType string, ts time.Time) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO states (type, updated_at) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		stateType, ts,
	)
	if err != nil {
		return wrapErr("upsert state", err)
	}
	return nil
}

// AcquireDistributionLease пытается захватить аренду прогона дистрибуции.
// Захват — одна условная запись: либо аренды нет, либо она истекла, либо
// её держит тот же владелец (продление). Возвращает false без ошибки,
// если аренду держит другой живой владелец.
func (r *StateRepo) AcquireDistributionLease(ctx context.Context, owner string, ttl time.Duration, now time.Time) (bool, error) {
	ct, err := r.store.pool.Exec(ctx, `
		INSERT INTO states (type, updated_at, lease_owner, lease_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (type) DO UPDATE
		SET lease_owner = EXCLUDED.lease_owner,
		    lease_until = EXCLUDED.lease_until,
		    updated_at  = EXCLUDED.updated_at
		WHERE states.lease_owner IS NULL
		   OR states.lease_until < $2
		   OR states.lease_owner = $3`,
		stateTypeDistributionLock, now, owner, now.Add(ttl),
	)
	if err != nil {
		return false, wrapErr("acquire distribution lease", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReleaseDistributionLease отпускает аренду, если она все еще наша.
// Отпускание чужой или истекшей аренды — no-op.
func (r *StateRepo) ReleaseDistributionLease(ctx context.Context, owner string) error {
	_, err := r.store.pool.Exec(ctx, `
		UPDATE states SET lease_owner = NULL, lease_until = NULL
		WHERE type = $1 AND lease_owner = $2`,
		stateTypeDistributionLock, owner,
	)
	if err != nil {
		return wrapErr("release distribution lease", err)
	}
	return nil
}
