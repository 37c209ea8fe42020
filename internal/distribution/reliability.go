package distribution

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// ReliableDeliverer оборачивает доставку в контур надежности:
// rate limiter → circuit breaker → retry. Дистрибуция и так повторит
// недоставленных кандидатов в следующем прогоне, но ретраи внутри
// прогона сглаживают короткие сетевые сбои без ожидания планировщика.
type ReliableDeliverer struct {
	next    Deliverer
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableDeliverer(next Deliverer) *ReliableDeliverer {
	// Настройка предохранителя: после пяти подряд неудачных публикаций
	// перестаем дергать транспорт и даем ему остыть.
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rule-delivery",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Доставка пачечная и редкая, лимит щадящий.
	limiter := rate.NewLimiter(rate.Limit(10), 5)

	return &ReliableDeliverer{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (w *ReliableDeliverer) Deliver(ctx context.Context, rules []domain.Rule) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	// 2. Circuit Breaker + Retry
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)

		retryErr := r.Do(func() error {
			dCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return w.next.Deliver(dCtx, rules)
		})
		return nil, retryErr
	})
	return err
}
