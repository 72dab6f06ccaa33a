package kafka

import (
	"encoding/json"

	"github.com/Shopify/sarama"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/tools/safe"
)

// Sink forwards lifecycle and message events to Kafka. Sends run on their own
// goroutine so a slow broker never stalls a state transition; a failed send
// is logged and dropped.
type Sink struct {
	producer       sarama.SyncProducer
	lifecycleTopic string
	messageTopic   string
}

func NewSink(producer sarama.SyncProducer, lifecycleTopic, messageTopic string) *Sink {
	return &Sink{
		producer:       producer,
		lifecycleTopic: lifecycleTopic,
		messageTopic:   messageTopic,
	}
}

func (s *Sink) SendLifecycle(event model.LifecycleEvent) {
	s.send(s.lifecycleTopic, event.ConversationID, event)
}

func (s *Sink) SendMessage(event model.MessageEvent) {
	s.send(s.messageTopic, event.ConversationID, event)
}

func (s *Sink) send(topic, key string, payload interface{}) {
	value, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("[kafka-sink] marshal for %s failed: %v", topic, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	safe.Go(func() {
		if _, _, err := s.producer.SendMessage(msg); err != nil {
			logger.Errorf("[kafka-sink] send to %s failed: %v", topic, err)
		}
	})
}

func (s *Sink) Close() error {
	return s.producer.Close()
}
