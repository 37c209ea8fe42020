package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis.
	RedisNamespace = "uapes"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRuleDistribution — канал доставки наборов правил агентам
	// принуждения: каждый прогон дистрибуции публикует сюда пачку
	// кандидатов в JSON.
	RedisChanRuleDistribution = RedisNamespace + ":rules:distribution"

	// RedisChanRuleChanged — широковещательный сигнал об изменении
	// политик/правил. Агенты, подписанные на канал, перечитывают свой кэш.
	RedisChanRuleChanged = RedisNamespace + ":rules:changed"
)
