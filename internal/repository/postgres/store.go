package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// Store владеет пулом соединений с PostgreSQL. Создается один раз в
// композиционном корне процесса и передается в репозитории явно —
// никакого глобального хендла соединения.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore открывает пул по строке подключения.
func NewStore(ctx context.Context, url string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, wrapErr("parse config", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapErr("open pool", err)
	}
	return &Store{pool: pool}, nil
}

// Ping проверяет доступность базы при старте.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// wrapErr переводит инфраструктурные сбои в таксономию домена.
// Истечение дедлайна контекста — отдельный тип, чтобы вызывающий не
// перепутал таймаут с отсутствием объекта.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.StoreTimeoutError{Op: op, Cause: err}
	}
	return &domain.StoreError{Op: op, Cause: err}
}
