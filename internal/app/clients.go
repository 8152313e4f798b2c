package app

import (
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
	"github.com/coachconnect/experiments-backend/internal/realtime/bus"
)

// Clients holds the Redis-backed buses. Both are optional: without
// REDIS_ADDR the engine runs single-instance, with local invalidation only
// and no analytics fan-out.
type Clients struct {
	EventBus        bus.Bus
	InvalidationBus bus.Bus
}

func wireClients(log *logger.Logger, cfg Config) Clients {
	var clients Clients
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, running without event or invalidation bus")
		return clients
	}

	eventBus, err := bus.NewEventBus(log)
	if err != nil {
		log.Warn("event bus init failed, continuing without it", "error", err)
	} else {
		clients.EventBus = eventBus
	}

	invalidationBus, err := bus.NewInvalidationBus(log)
	if err != nil {
		log.Warn("invalidation bus init failed, continuing without it", "error", err)
	} else {
		clients.InvalidationBus = invalidationBus
	}
	return clients
}

func (c Clients) Close() {
	if c.EventBus != nil {
		_ = c.EventBus.Close()
	}
	if c.InvalidationBus != nil {
		_ = c.InvalidationBus.Close()
	}
}
