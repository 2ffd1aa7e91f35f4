package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syncmarks/syncmarks/internal/fanout"
	"github.com/syncmarks/syncmarks/internal/logger"
	"github.com/syncmarks/syncmarks/internal/merge"
	"github.com/syncmarks/syncmarks/internal/normalize"
	"github.com/syncmarks/syncmarks/internal/registry"
)

type Deps struct {
	Logger            logger.Logger
	StartTime         time.Time
	Version           string
	Commit            string
	BuildDate         string
	GoVersion         string
	TimeNow           func() time.Time // for testing, defaults to time.Now
	AllowedOrigins    []string         // Origin headers allowed to open a sync session
	RedisClient       *redis.Client    // Redis client connection
	Engine            *merge.Engine    // conflict-resolving merge engine
	Registry          *registry.Registry
	Dispatcher        *fanout.Dispatcher
	Normalizer        *normalize.Normalizer
	HeartbeatInterval time.Duration // server heartbeat cadence on sync sessions
}
