package messaging

import (
	"context"

	"github.com/Aidin1998/amlwatch/internal/store"
)

// AlertPublisher emits stored alerts to the alert topic, keyed by user so a
// user's alerts stay ordered within one partition
type AlertPublisher struct {
	producer *KafkaProducer
	topic    Topic
}

func NewAlertPublisher(producer *KafkaProducer, topic string) *AlertPublisher {
	if topic == "" {
		topic = "aml.alerts"
	}
	return &AlertPublisher{producer: producer, topic: Topic(topic)}
}

// PublishAlerts implements alerts.Publisher
func (p *AlertPublisher) PublishAlerts(ctx context.Context, alerts []store.Alert) error {
	return p.producer.PublishBatch(ctx, p.topic, alertBatch(alerts))
}

func alertBatch(alerts []store.Alert) []BatchMessage {
	batch := make([]BatchMessage, 0, len(alerts))
	for _, a := range alerts {
		batch = append(batch, BatchMessage{Key: a.UserID.String(), Message: NewAlertMessage(a)})
	}
	return batch
}
