package distribution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

/*
Файл engine.go — ядро инкрементальной дистрибуции правил.

Прогон — конечный автомат IDLE → COLLECTING → DELIVERING → ADVANCING → IDLE
без персистентного промежуточного состояния, кроме водяного знака.
Гарантия at-least-once держится на порядке шагов: водяной знак
продвигается и пометки снимаются только после успешной доставки, поэтому
сбой доставки означает повтор тех же кандидатов в следующем прогоне.
Недопоставка исключена, передоставка допустима.
*/

// ErrRunInProgress — аренду прогона держит другой живой владелец.
var ErrRunInProgress = errors.New("distribution: run already in progress")

// DefaultLookback — глубина просмотра для самого первого прогона, когда
// водяного знака еще нет: подхватываем только недавние изменения, а не
// всю историю.
const DefaultLookback = 10 * time.Minute

// DefaultLeaseTTL ограничивает жизнь аренды, чтобы упавший прогон не
// блокировал дистрибуцию навсегда.
const DefaultLeaseTTL = 5 * time.Minute

// RuleSource — требования движка к хранилищу правил.
type RuleSource interface {
	Query(ctx context.Context, f domain.RuleFilter) ([]domain.RuleWithPolicy, error)
	MarkForDistribution(ctx context.Context, groupIDs []string) (int64, error)
	ClearDistributionMarks(ctx context.Context) error
}

// StateStore — требования движка к хранилищу состояния.
type StateStore interface {
	Get(ctx context.Context, stateType string) (*domain.State, error)
	Upsert(ctx context.Context, stateType string, ts time.Time) error
	AcquireDistributionLease(ctx context.Context, owner string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseDistributionLease(ctx context.Context, owner string) error
}

// Deliverer — внешний коллаборатор, доставляющий правила агентам.
type Deliverer interface {
	Deliver(ctx context.Context, rules []domain.Rule) error
}

// Config собирает зависимости движка.
type Config struct {
	Rules     RuleSource
	State     StateStore
	Deliverer Deliverer
	Logger    *zap.Logger
	Metrics   *Metrics

	// Owner идентифицирует держателя аренды (обычно hostname+pid).
	Owner    string
	Lookback time.Duration
	LeaseTTL time.Duration
}

type Engine struct {
	rules     RuleSource
	state     StateStore
	deliverer Deliverer
	logger    *zap.Logger
	metrics   *Metrics

	owner    string
	lookback time.Duration
	leaseTTL time.Duration

	// Подменяется в тестах для фиксации часов.
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		rules:     cfg.Rules,
		state:     cfg.State,
		deliverer: cfg.Deliverer,
		logger:    cfg.Logger.Named("distribution"),
		metrics:   cfg.Metrics,
		owner:     cfg.Owner,
		lookback:  cfg.Lookback,
		leaseTTL:  cfg.LeaseTTL,
		now:       time.Now,
	}
	if e.lookback <= 0 {
		e.lookback = DefaultLookback
	}
	if e.leaseTTL <= 0 {
		e.leaseTTL = DefaultLeaseTTL
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Report — итог успешного прогона.
type Report struct {
	Candidates int       `json:"candidates"`
	Watermark  time.Time `json:"watermark"`
}

// Run выполняет один прогон дистрибуции.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	started := e.now()

	acquired, err := e.state.AcquireDistributionLease(ctx, e.owner, e.leaseTTL, started)
	if err != nil {
		e.metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !acquired {
		e.metrics.RunsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrRunInProgress
	}
	defer func() {
		// Отпускаем аренду фоновым контекстом: прогон мог упасть
		// из-за отмены основного.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.state.ReleaseDistributionLease(releaseCtx, e.owner); err != nil {
			e.logger.Error("failed to release distribution lease", zap.Error(err))
		}
	}()

	report, err := e.run(ctx, started)
	e.metrics.RunDuration.Observe(e.now().Sub(started).Seconds())
	if err != nil {
		e.metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	e.metrics.RunsTotal.WithLabelValues("ok").Inc()
	return report, nil
}

func (e *Engine) run(ctx context.Context, started time.Time) (*Report, error) {
	// COLLECTING: нижняя граница — водяной знак прошлого прогона, либо
	// now-lookback на самом первом прогоне.
	floor := started.Add(-e.lookback)
	state, err := e.state.Get(ctx, domain.StateTypeRuleLastDistribution)
	switch {
	case err == nil:
		floor = state.UpdatedAt
	default:
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Момент прогона фиксируем ДО запроса кандидатов: изменение,
	// приземлившееся во время запроса, попадет в следующий прогон,
	// а не потеряется в щели между запросом и записью знака.
	tNow := started

	candidates, err := e.rules.Query(ctx, domain.RuleFilter{
		PolicyStatus:          domain.StatusActive,
		Status:                domain.StatusActive,
		UpdatedSince:          &floor,
		MarkedForDistribution: true,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.CandidatesLast.Set(float64(len(candidates)))

	// DELIVERING: при сбое доставки прогон обрывается до снятия пометок
	// и продвижения знака — те же кандидаты уйдут в следующий прогон.
	if len(candidates) > 0 {
		rules := make([]domain.Rule, len(candidates))
		for i, c := range candidates {
			rules[i] = c.Rule
		}
		if err := e.deliverer.Deliver(ctx, rules); err != nil {
			return nil, err
		}
		e.metrics.DeliveredTotal.Add(float64(len(rules)))
	}

	// ADVANCING: снять пометки с активных правил, затем продвинуть знак.
	// Шаги не обернуты одной транзакцией: сбой между ними дает повторную,
	// но не пропущенную доставку.
	if err := e.rules.ClearDistributionMarks(ctx); err != nil {
		return nil, err
	}
	if err := e.state.Upsert(ctx, domain.StateTypeRuleLastDistribution, tNow); err != nil {
		return nil, err
	}

	e.logger.Info("distribution run finished",
		zap.Int("candidates", len(candidates)),
		zap.Time("floor", floor),
		zap.Time("watermark", tNow),
	)
	return &Report{Candidates: len(candidates), Watermark: tNow}, nil
}

// MarkGroups — внеполосная пометка: внешне изменился состав групп, и все
// активные правила с target.scope=group и target.id из списка обязаны
// попасть в следующую дистрибуцию, хотя их содержимое не менялось.
func (e *Engine) MarkGroups(ctx context.Context, groupIDs []string) (int64, error) {
	if len(groupIDs) == 0 {
		return 0, domain.NewValidationError("group_ids", "at least one group id is required")
	}
	marked, err := e.rules.MarkForDistribution(ctx, groupIDs)
	if err != nil {
		return 0, err
	}
	e.metrics.MarkedTotal.Add(float64(marked))
	e.logger.Info("rules marked for distribution",
		zap.Strings("group_ids", groupIDs),
		zap.Int64("marked", marked),
	)
	return marked, nil
}
