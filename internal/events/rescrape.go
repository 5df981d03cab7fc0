package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// ErrEmptyRequest is returned for a re-scrape message without URLs.
var ErrEmptyRequest = errors.New("rescrape request has no urls")

// RescrapeRequest asks the engine to run URLs through the pipeline again.
type RescrapeRequest struct {
	URLs        []string `json:"urls"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

// ParseRescrapeRequest decodes and cleans a re-scrape message.
func ParseRescrapeRequest(data []byte) (*RescrapeRequest, error) {
	var req RescrapeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode rescrape request: %w", err)
	}
	urls := req.URLs[:0]
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	req.URLs = urls
	if len(req.URLs) == 0 {
		return nil, ErrEmptyRequest
	}
	return &req, nil
}

// RescrapeHandler runs one decoded request.
type RescrapeHandler func(ctx context.Context, req *RescrapeRequest) error

// RescrapeConsumer is a sarama.ConsumerGroupHandler feeding re-scrape
// requests to a handler. Messages are marked even when handling fails;
// failures surface in batch results, not as redeliveries.
type RescrapeConsumer struct {
	ready   chan struct{}
	once    sync.Once
	handler RescrapeHandler
	log     logrus.FieldLogger
}

// NewRescrapeConsumer creates a consumer.
func NewRescrapeConsumer(handler RescrapeHandler, log logrus.FieldLogger) *RescrapeConsumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RescrapeConsumer{
		ready:   make(chan struct{}),
		handler: handler,
		log:     log.WithField("component", "rescrape_consumer"),
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (c *RescrapeConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.once.Do(func() { close(c.ready) })
	return nil
}

// Ready is closed once the first session is set up.
func (c *RescrapeConsumer) Ready() <-chan struct{} {
	return c.ready
}

// Cleanup is run at the end of a session.
func (c *RescrapeConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles messages of one partition claim.
func (c *RescrapeConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.HandleMessage(session.Context(), message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}

// HandleMessage decodes and runs a single message, logging failures.
func (c *RescrapeConsumer) HandleMessage(ctx context.Context, data []byte) {
	req, err := ParseRescrapeRequest(data)
	if err != nil {
		c.log.WithError(err).Warn("Skipping invalid rescrape message")
		return
	}
	if err := c.handler(ctx, req); err != nil {
		c.log.WithError(err).WithField("urls", len(req.URLs)).Error("Rescrape request failed")
	}
}

// ReadyWarnAfter is how long a consumer group may take to join before a
// warning is logged.
const ReadyWarnAfter = 30 * time.Second

// StartRescrapeGroup joins groupID on topic and consumes in the background
// until ctx is done. It returns without waiting for the first session; a
// group that has not joined after ReadyWarnAfter is logged.
func StartRescrapeGroup(ctx context.Context, brokers []string, topic, groupID string, handler RescrapeHandler, log logrus.FieldLogger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("start kafka consumer group: %w", err)
	}

	consumer := NewRescrapeConsumer(handler, log)
	go func() {
		for {
			if err := group.Consume(ctx, []string{topic}, consumer); err != nil {
				consumer.log.WithError(err).Error("Consumer session failed")
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go watchReady(ctx, consumer.Ready(), ReadyWarnAfter, consumer.log.WithField("topic", topic))
	return group, nil
}

// watchReady logs when ready closes, and warns once if that takes longer
// than warnAfter. It returns when ready closes or ctx is done.
func watchReady(ctx context.Context, ready <-chan struct{}, warnAfter time.Duration, log logrus.FieldLogger) {
	timer := time.NewTimer(warnAfter)
	defer timer.Stop()
	for {
		select {
		case <-ready:
			log.Info("Rescrape consumer running")
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			log.Warnf("Rescrape consumer has not joined its group after %s, still waiting", warnAfter)
		}
	}
}
