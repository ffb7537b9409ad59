package orderlock

import (
	"strings"

	"github.com/merchantkit/paygate/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewFromConfig builds the locker when a redis address is configured. A nil
// locker disables the extra lock; the order store's row lock still applies.
func NewFromConfig(cfg config.Config) *Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewLocker(client)
}

var Module = fx.Module("order.lock",
	fx.Provide(NewFromConfig),
)
