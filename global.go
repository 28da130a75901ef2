package flowstudio

import (
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Process-wide infrastructure handles. DB, Redis and Nats stay nil when the
// matching section of the configuration is left empty.
var (
	DB     *gorm.DB
	Logger zerolog.Logger
	Redis  *redis.Client
	Nats   *nats.Conn
)
