// Package queue moves OCR requests through Kafka.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/models"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// TopicOCR is the route of OCR requests before prefixing.
const TopicOCR = "ocr"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic: topic,
	}
}

// SubmitOCR enqueues req. The language is sent as given; the pipeline
// normalizes it.
func (p *Producer) SubmitOCR(ctx context.Context, req models.OCRRequest) error {
	if req.DocumentID == "" {
		return errors.New("document id is required")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.DocumentID),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.writer.Close() }

// Handler processes one request. Its error is logged; the message is
// committed either way because the pipeline already retried what it could.
type Handler func(ctx context.Context, req models.OCRRequest) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
	// FetchBackoff is the first pause after a failed fetch. It doubles per
	// consecutive failure up to maxFetchBackoff (default 1s).
	FetchBackoff time.Duration
	Logger       *slog.Logger
}

const maxFetchBackoff = 30 * time.Second

// Consumer reads OCR requests and runs up to Concurrency handlers at once.
// Offsets are committed after the handler returns.
type Consumer struct {
	reader      messageReader
	topic       string
	concurrency int
	backoff     time.Duration
	logger      *slog.Logger
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, cfg)
}

func newConsumer(r messageReader, cfg ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	backoff := cfg.FetchBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Consumer{
		reader:      r,
		topic:       cfg.Topic,
		concurrency: concurrency,
		backoff:     backoff,
		logger:      logger.With("topic", cfg.Topic),
	}
}

// Start blocks until ctx is cancelled and every in-flight handler returned.
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	c.logger.Info("consumer started", "concurrency", c.concurrency)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	delay := c.backoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				c.logger.Info("reader closed", "error", err)
				break
			}
			c.logger.Error("failed to fetch message", "error", err, "backoff", delay)
			if !sleepCtx(ctx, delay) {
				break
			}
			delay = min(delay*2, maxFetchBackoff)
			continue
		}
		delay = c.backoff

		var req models.OCRRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil || req.DocumentID == "" {
			c.logger.Error("discarding malformed request", "offset", msg.Offset, "error", err)
			c.commit(ctx, msg)
			continue
		}

		g.Go(func() error {
			logCtx := c.logger.With("documentId", req.DocumentID, "offset", msg.Offset)
			if err := handle(ctx, req); err != nil {
				logCtx.Error("request failed", "error", err)
			}
			c.commit(context.WithoutCancel(ctx), msg)
			return nil
		})
	}

	err := g.Wait()
	c.logger.Info("consumer stopped")
	return err
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message", "offset", msg.Offset, "error", err)
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
