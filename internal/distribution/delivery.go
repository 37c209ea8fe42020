package distribution

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
	"github.com/IdanMittelpunkt/UAPES/internal/infra"
)

// RedisDeliverer публикует набор кандидатов в широковещательный канал.
// Все агенты принуждения, подписанные на канал, применяют пачку правил
// к своему локальному кэшу. Сама по себе публикация — и есть внешняя
// передача: подтверждений от агентов протокол не требует.
type RedisDeliverer struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisDeliverer(rdb *redis.Client, logger *zap.Logger) *RedisDeliverer {
	return &RedisDeliverer{
		rdb:    rdb,
		logger: logger.Named("delivery"),
	}
}

// Deliver сериализует пачку правил и публикует её одним сообщением.
func (d *RedisDeliverer) Deliver(ctx context.Context, rules []domain.Rule) error {
	payload, err := json.Marshal(rules)
	if err != nil {
		return err
	}

	if err := d.rdb.Publish(ctx, infra.RedisChanRuleDistribution, payload).Err(); err != nil {
		return err
	}

	d.logger.Info("rules delivered",
		zap.Int("count", len(rules)),
		zap.String("channel", infra.RedisChanRuleDistribution),
	)
	return nil
}
