package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev ListingChanged
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.ListingID != "20240101-abc" || ev.Action != domain.ActionInsert {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "listing-events")
	err := pub.Publish(context.Background(), ListingChanged{
		Action:    domain.ActionInsert,
		ListingID: "20240101-abc",
		SourceURL: "https://auctions.example.com/item/1",
		Changed:   true,
		At:        1704067200000,
	})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "listing-events")
	err := pub.Publish(context.Background(), ListingChanged{ListingID: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisherWithProducer(producer, "listing-events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, ListingChanged{ListingID: "x"}), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestMemoryPublisher(t *testing.T) {
	pub := &MemoryPublisher{}
	require.NoError(t, pub.Publish(context.Background(), ListingChanged{ListingID: "a"}))
	require.NoError(t, pub.Publish(context.Background(), ListingChanged{ListingID: "b"}))

	evs := pub.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, "a", evs[0].ListingID)
}

func TestParseRescrapeRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{name: "valid", input: `{"urls":["https://a.example/1"," https://a.example/2 "]}`, want: []string{"https://a.example/1", "https://a.example/2"}},
		{name: "blank urls dropped", input: `{"urls":["", "  ", "https://a.example/1"]}`, want: []string{"https://a.example/1"}},
		{name: "empty", input: `{"urls":[]}`, wantErr: ErrEmptyRequest},
		{name: "only blanks", input: `{"urls":[" "]}`, wantErr: ErrEmptyRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRescrapeRequest([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.URLs)
		})
	}

	_, err := ParseRescrapeRequest([]byte("not json"))
	assert.Error(t, err)
}

func TestRescrapeConsumer_HandleMessage(t *testing.T) {
	var got []string
	consumer := NewRescrapeConsumer(func(_ context.Context, req *RescrapeRequest) error {
		got = append(got, req.URLs...)
		return nil
	}, nil)

	consumer.HandleMessage(context.Background(), []byte(`{"urls":["https://a.example/1"]}`))
	consumer.HandleMessage(context.Background(), []byte(`garbage`))

	assert.Equal(t, []string{"https://a.example/1"}, got)
}

func TestRescrapeConsumer_ReadyOnce(t *testing.T) {
	consumer := NewRescrapeConsumer(func(context.Context, *RescrapeRequest) error { return nil }, nil)
	require.NoError(t, consumer.Setup(nil))
	require.NoError(t, consumer.Setup(nil))

	select {
	case <-consumer.Ready():
	default:
		t.Fatal("consumer not ready after setup")
	}
}

func TestWatchReady(t *testing.T) {
	log, hook := test.NewNullLogger()
	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		watchReady(context.Background(), ready, 10*time.Millisecond, log)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected a warning while the group has not joined")

	close(ready)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchReady did not return after ready")
	}
	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, "Rescrape consumer running", last.Message)
}

func TestWatchReady_StopsOnCancel(t *testing.T) {
	log, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		watchReady(ctx, make(chan struct{}), time.Hour, log)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchReady did not return after cancel")
	}
	assert.Empty(t, hook.AllEntries())
}
