package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"github.com/ashik1291/customer-support-live-chat-system/global"
)

// BuildConfig assembles the sarama producer config. Keys carry the
// conversation id, and the hash partitioner maps every event of one
// conversation onto the same partition, which preserves per-conversation
// ordering downstream.
func BuildConfig(cfg global.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	sc.Producer.Retry.Max = retries

	switch strings.ToLower(cfg.Compression) {
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 30 * time.Second
	sc.Net.WriteTimeout = 30 * time.Second
	return sc
}

// NewProducer connects a sync producer to the configured brokers.
func NewProducer(cfg global.KafkaConfig) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(cfg.Brokers, BuildConfig(cfg))
}
