package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ingest-service/internal/models"
)

// Producer is the part of the Kafka client the sink needs.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes every event as JSON to "<prefix><kind>", keyed by
// project so one project's events stay ordered within a partition.
type KafkaSink struct {
	producer    Producer
	topicPrefix string
}

func NewKafkaSink(p Producer, topicPrefix string) *KafkaSink {
	return &KafkaSink{producer: p, topicPrefix: topicPrefix}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, e models.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.producer.ProduceMessage(ctx,
		k.topicPrefix+e.Kind,
		[]byte(strconv.FormatInt(e.ProjectID, 10)),
		value,
		map[string]string{"event_id": e.ID, "kind": e.Kind},
	)
}
