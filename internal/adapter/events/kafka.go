// Package events publishes upload lifecycle events to Kafka-compatible
// brokers so downstream consumers (BI jobs, alerting) can react to finished
// uploads without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/powerpulse/powerpulse/internal/domain"
)

// KafkaPublisher emits one record per terminal upload, keyed by upload id so
// a consumer sees each upload's events in order. Records are produced
// asynchronously; delivery failures are logged, never surfaced to the
// pipeline.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the brokers and makes sure the completion
// topic exists. Topic creation failures are tolerated since managed clusters
// often pre-provision topics and deny CreateTopics.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=events.NewKafkaPublisher: no brokers: %w", domain.ErrInvalidArgument)
	}
	if topic == "" {
		return nil, fmt.Errorf("op=events.NewKafkaPublisher: topic required: %w", domain.ErrInvalidArgument)
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	instr := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(instr.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=events.NewKafkaPublisher: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("completion topic creation failed, assuming it exists",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	slog.Info("kafka completion publisher ready",
		slog.Any("brokers", brokers),
		slog.String("topic", topic))
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// PublishUploadCompleted hands the event to the producer and returns without
// waiting for the broker. The record is detached from the caller's
// cancellation so an upload that timed out still reports its fate.
func (p *KafkaPublisher) PublishUploadCompleted(ctx domain.Context, c domain.UploadCompletion) error {
	rec, err := completionRecord(p.topic, c)
	if err != nil {
		return err
	}
	p.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			slog.Error("completion event delivery failed",
				slog.String("upload_id", c.UploadID),
				slog.String("topic", r.Topic),
				slog.Any("error", err))
			return
		}
		slog.Debug("completion event delivered",
			slog.String("upload_id", c.UploadID),
			slog.String("topic", r.Topic),
			slog.Int64("offset", r.Offset))
	})
	return nil
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		slog.Warn("flushing completion events on close failed", slog.Any("error", err))
	}
	p.client.Close()
	return nil
}

func completionRecord(topic string, c domain.UploadCompletion) (*kgo.Record, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("op=events.completionRecord: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(c.UploadID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "upload_id", Value: []byte(c.UploadID)},
			{Key: "status", Value: []byte(c.Status)},
		},
	}, nil
}

// NoopPublisher drops events. It is wired when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishUploadCompleted(domain.Context, domain.UploadCompletion) error {
	return nil
}
