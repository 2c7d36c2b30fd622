package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// TaskMessage is the envelope sent to downstream workers.
type TaskMessage struct {
	Task   string         `json:"task"`
	Kwargs map[string]any `json:"kwargs"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes task messages to one topic per route. Topic names
// go through prefixed, so several deployments can share a cluster.
type KafkaNotifier struct {
	writer   messageWriter
	prefixed func(string) string
	logger   *slog.Logger
}

func NewKafkaNotifier(brokers []string, prefixed func(string) string, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return newKafkaNotifier(writer, prefixed, logger)
}

func newKafkaNotifier(w messageWriter, prefixed func(string) string, logger *slog.Logger) *KafkaNotifier {
	if prefixed == nil {
		prefixed = func(s string) string { return s }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{writer: w, prefixed: prefixed, logger: logger}
}

func (n *KafkaNotifier) send(ctx context.Context, route, key string, msg TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Task, err)
	}
	topic := n.prefixed(route)
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", msg.Task, topic, err)
	}
	n.logger.Debug("task sent", "task", msg.Task, "topic", topic)
	return nil
}

func (n *KafkaNotifier) GeneratePreview(ctx context.Context, documentID string) error {
	return n.send(ctx, RoutePreview, documentID, TaskMessage{
		Task:   TaskGeneratePreview,
		Kwargs: map[string]any{"doc_id": documentID},
	})
}

func (n *KafkaNotifier) IndexAdd(ctx context.Context, documentIDs []string) error {
	key := ""
	if len(documentIDs) > 0 {
		key = documentIDs[0]
	}
	return n.send(ctx, RouteIndex, key, TaskMessage{
		Task:   TaskIndexAddDocs,
		Kwargs: map[string]any{"doc_ids": documentIDs},
	})
}

func (n *KafkaNotifier) Close() error { return n.writer.Close() }
