// Package events publishes listing-change events and consumes re-scrape
// requests over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"auction-ingest/internal/domain"
)

// ListingChanged is emitted after every successful listing write.
type ListingChanged struct {
	Action    domain.WriteAction `json:"action"`
	ListingID string             `json:"listing_id"`
	SourceURL string             `json:"source_url"`
	Changed   bool               `json:"changed"`
	At        int64              `json:"at"` // Unix ms
}

// Publisher emits listing-change events.
type Publisher interface {
	Publish(ctx context.Context, ev ListingChanged) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ListingChanged) error { return nil }

// KafkaPublisher writes events to a Kafka topic keyed by listing id, so all
// events of one listing land on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducerConfig returns the producer settings used for listing events.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	return config
}

// NewKafkaPublisher connects a sync producer to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev ListingChanged) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal listing event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ListingID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("write listing event to kafka: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// MemoryPublisher records events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []ListingChanged
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, ev ListingChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []ListingChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ListingChanged(nil), p.events...)
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
)
