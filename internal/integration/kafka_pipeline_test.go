//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/ham-neighbors/internal/adapter/kafka"
	"github.com/couchcryptid/ham-neighbors/internal/config"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
	"github.com/couchcryptid/ham-neighbors/internal/pipeline"
	"github.com/couchcryptid/ham-neighbors/internal/storage/memory"
)

const testResultsTopic = "test-geocode-results"

// publishedMessage holds a deserialized message read from the results topic.
type publishedMessage struct {
	Event   domain.GeocodeEvent
	Key     string
	Headers map[string]string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("ham-neighbors-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(kc); err != nil {
			t.Logf("terminate kafka: %v", err)
		}
	})

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testResultsTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// readPublished reads a single message from the results topic and deserializes it.
func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from results topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event domain.GeocodeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal results message")

	return publishedMessage{Event: event, Key: string(msg.Key), Headers: headers}
}

type rooftopGeocoder struct{}

func (rooftopGeocoder) Geocode(context.Context, domain.GeocodeRequest) (domain.GeocodeResponse, error) {
	return domain.GeocodeResponse{
		Status:  domain.ProviderOK,
		Results: []domain.GeocodeResult{{Lat: 42.065, Lng: -71.248, Accuracy: 1, Tier: domain.TierRooftop}},
		Raw:     []byte(`{"status":"OK"}`),
	}, nil
}

// TestPublisher verifies events round-trip through Kafka with their key and headers.
func TestPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testResultsTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaResultsTopic: testResultsTopic}
	pub := kafka.NewPublisher(cfg, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	geocodedAt := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.PublishResults(ctx, []domain.GeocodeEvent{{
		RunID:      "run-1",
		AddressID:  7,
		Hash:       "abc123",
		Status:     domain.StatusNotFound.String(),
		GeocodedAt: geocodedAt,
	}}))

	pm := readPublished(ctx, t, newConsumer(t, broker))
	assert.Equal(t, "abc123", pm.Key)
	assert.Equal(t, "run-1", pm.Headers["run_id"])
	assert.Equal(t, "not_found", pm.Headers["status"])
	assert.Equal(t, geocodedAt.Format(time.RFC3339), pm.Headers["geocoded_at"])
	assert.Equal(t, int64(7), pm.Event.AddressID)
	assert.Zero(t, pm.Event.Latitude)
}

// TestPipelinePublishesOutcomes runs a batch against the fixture store and
// reads the outcome back from the results topic.
func TestPipelinePublishesOutcomes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testResultsTopic)

	store := memory.New()
	require.NoError(t, store.LoadFile("../storage/memory/testdata/neighbors.json"))

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaResultsTopic: testResultsTopic}
	pub := kafka.NewPublisher(cfg, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	p := pipeline.New(store, rooftopGeocoder{}, discardLogger(), observability.NewMetricsForTesting(), pipeline.Options{
		BatchSize: 10,
		Provider:  config.ProviderGeocodio,
		Publisher: pub,
	})

	res, err := p.RunBatch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)

	pending, ok := store.Address(6)
	require.True(t, ok)
	require.Equal(t, domain.StatusSuccess, pending.Status)

	pm := readPublished(ctx, t, newConsumer(t, broker))
	assert.Equal(t, pending.Hash, pm.Key)
	assert.Equal(t, res.RunID, pm.Headers["run_id"])
	assert.Equal(t, "success", pm.Event.Status)
	assert.Equal(t, int64(6), pm.Event.AddressID)
	assert.Equal(t, pending.GridSquare, pm.Event.GridSquare)
	assert.InDelta(t, 42.065, pm.Event.Latitude, 1e-9)
}
