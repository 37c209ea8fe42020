package service

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/infra"
)

// ChangeNotifier отправляет широковещательный сигнал в Redis после каждой
// записи. Агенты, подписанные на канал, перечитают свой кэш правил, не
// дожидаясь следующего прогона дистрибуции.
type ChangeNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewChangeNotifier(rdb *redis.Client, logger *zap.Logger) *ChangeNotifier {
	return &ChangeNotifier{
		rdb:    rdb,
		logger: logger.Named("notifier"),
	}
}

// NotifyRuleChange публикует сигнал "refresh". Сбой публикации не
// отменяет уже состоявшуюся запись: данные в базе первичны, кэш агентов
// догонит их в следующем прогоне дистрибуции.
func (n *ChangeNotifier) NotifyRuleChange(ctx context.Context) {
	if n.rdb == nil {
		return
	}
	if err := n.rdb.Publish(ctx, infra.RedisChanRuleChanged, "refresh").Err(); err != nil {
		n.logger.Warn("failed to publish rule change signal", zap.Error(err))
	}
}
