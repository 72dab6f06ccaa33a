package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig carries every tunable of the chat engine. Values come from the
// environment (optionally seeded from a .env file); all of them have working
// defaults so a bare `go run .` against a local Redis boots.
type AppConfig struct {
	Server       ServerConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Queue        QueueConfig
	Conversation ConversationConfig
	Housekeeping HousekeepingConfig
	Security     SecurityConfig
}

type ServerConfig struct {
	Addr   string // listen address, e.g. ":8080"
	NodeID int64  // snowflake node id
}

type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	KeyPrefix       string        // prefix for every key the engine owns
	ConversationTTL time.Duration // TTL on conversation records and message logs
	PresenceTTL     time.Duration // TTL on presence markers
	LockWait        time.Duration // max blocking wait for a named lock
	LockLease       time.Duration // lease put on every acquired lock
}

type KafkaConfig struct {
	Brokers        []string // empty disables the broker sink
	LifecycleTopic string
	MessageTopic   string
	Compression    string // none|snappy|lz4|zstd
	Retries        int
}

type QueueConfig struct {
	MaxConcurrentByAgent int           // admission cap per agent
	EntryTTL             time.Duration // max age of a queue entry before the sweeper purges it
	BroadcastLimit       int           // max entries in a published snapshot
}

type ConversationConfig struct {
	InactivityTimeout time.Duration // close after this much silence
	MaxDuration       time.Duration // absolute lifetime cap
}

type HousekeepingConfig struct {
	Interval time.Duration
}

type SecurityConfig struct {
	RateLimitEnabled bool
	RateLimitRPS     float64 // sustained refill rate per client
	RateLimitBurst   int     // bucket capacity
	AllowedOrigins   []string
}

// Load reads the configuration from the environment. A missing .env file is
// not an error.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		Server: ServerConfig{
			Addr:   getEnv("SERVER_ADDR", ":8080"),
			NodeID: getInt64("SERVER_NODE_ID", 1),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getInt("REDIS_DB", 0),
			PoolSize:        getInt("REDIS_POOL_SIZE", 20),
			KeyPrefix:       getEnv("CHAT_KEY_PREFIX", "chat"),
			ConversationTTL: getDuration("CHAT_CONVERSATION_TTL", 24*time.Hour),
			PresenceTTL:     getDuration("CHAT_PRESENCE_TTL", 5*time.Minute),
			LockWait:        getDuration("CHAT_LOCK_WAIT", 5*time.Second),
			LockLease:       getDuration("CHAT_LOCK_LEASE", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getList("KAFKA_BROKERS", nil),
			LifecycleTopic: getEnv("KAFKA_LIFECYCLE_TOPIC", "chat.lifecycle"),
			MessageTopic:   getEnv("KAFKA_MESSAGE_TOPIC", "chat.messages"),
			Compression:    getEnv("KAFKA_COMPRESSION", "none"),
			Retries:        getInt("KAFKA_PRODUCER_RETRIES", 3),
		},
		Queue: QueueConfig{
			MaxConcurrentByAgent: getInt("CHAT_QUEUE_MAX_CONCURRENT", 3),
			EntryTTL:             getDuration("CHAT_QUEUE_ENTRY_TTL", 30*time.Minute),
			BroadcastLimit:       getInt("CHAT_QUEUE_BROADCAST_LIMIT", 100),
		},
		Conversation: ConversationConfig{
			InactivityTimeout: getDuration("CHAT_INACTIVITY_TIMEOUT", 30*time.Minute),
			MaxDuration:       getDuration("CHAT_MAX_DURATION", 12*time.Hour),
		},
		Housekeeping: HousekeepingConfig{
			Interval: getDuration("CHAT_HOUSEKEEPING_INTERVAL", time.Minute),
		},
		Security: SecurityConfig{
			RateLimitEnabled: getBool("CHAT_RATE_LIMIT_ENABLED", true),
			RateLimitRPS:     getFloat("CHAT_RATE_LIMIT_RPS", 5),
			RateLimitBurst:   getInt("CHAT_RATE_LIMIT_BURST", 20),
			AllowedOrigins:   getList("CHAT_ALLOWED_ORIGINS", []string{"*"}),
		},
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
