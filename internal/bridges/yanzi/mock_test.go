package yanzi

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/influxdb"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	unsubscribed  []string
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) GetUnsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MockMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published on topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers payload to every handler whose filter matches
// topic. Only the single-level wildcard is supported.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var matched []func(string, []byte)
	for filter, h := range m.handlers {
		if topicMatches(filter, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		h(topic, payload)
	}
}

func topicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	if len(fs) != len(ts) {
		return false
	}
	for i := range fs {
		if fs[i] != "+" && fs[i] != ts[i] {
			return false
		}
	}
	return true
}

// waitForPublish polls until a message is published on topic.
func waitForPublish(t *testing.T, m *MockMQTTClient, topic string) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.PublishedTo(topic); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return mockPublish{}
}

// fakeLocation implements LocationReader.
type fakeLocation struct {
	mu         sync.Mutex
	sources    []Source
	sourcesErr error
	latest     map[string]json.RawMessage
	latestErr  error
	stats      WatchStats

	refreshCalls int
	watching     chan cirrus.Publisher
}

func newFakeLocation(sources []Source) *fakeLocation {
	return &fakeLocation{
		sources:  sources,
		latest:   make(map[string]json.RawMessage),
		stats:    WatchStats{Connected: true},
		watching: make(chan cirrus.Publisher, 1),
	}
}

func (f *fakeLocation) LocationID() string { return testLocation }

func (f *fakeLocation) DeviceSources(_ context.Context) ([]Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.sourcesErr != nil {
		return nil, f.sourcesErr
	}
	return append([]Source(nil), f.sources...), nil
}

func (f *fakeLocation) GetLatest(_ context.Context, dsa cirrus.DataSourceAddress) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, false, f.latestErr
	}
	sample, ok := f.latest[Key(dsa)]
	return sample, ok, nil
}

func (f *fakeLocation) Watch(ctx context.Context, pub cirrus.Publisher) error {
	select {
	case f.watching <- pub:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeLocation) WatchStats() WatchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeLocation) setStats(st WatchStats) {
	f.mu.Lock()
	f.stats = st
	f.mu.Unlock()
}

func (f *fakeLocation) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// fakePoints implements SampleWriter.
type fakePoints struct {
	mu      sync.Mutex
	samples []influxdb.Sample
	points  []fakePoint
}

type fakePoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

func (p *fakePoints) WriteSample(s influxdb.Sample) {
	p.mu.Lock()
	p.samples = append(p.samples, s)
	p.mu.Unlock()
}

func (p *fakePoints) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	p.mu.Lock()
	p.points = append(p.points, fakePoint{measurement, tags, fields, ts})
	p.mu.Unlock()
}
