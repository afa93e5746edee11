package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "applyflow"
)

// Ключи для Sets (состояние)
const (
	RedisKeyCancelledSessions = RedisNamespace + ":sessions:cancelled_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanSessionCancel - сигнал "session_id:on" всем инстансам
	RedisChanSessionCancel = RedisNamespace + ":sessions:cancel-signal"
)
