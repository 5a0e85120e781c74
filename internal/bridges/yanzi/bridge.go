package yanzi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// DefaultRefreshInterval is how often the source catalogue is re-read.
	DefaultRefreshInterval = 10 * time.Minute

	// requestTimeout bounds the work done for one MQTT request.
	requestTimeout = time.Minute

	// storeTimeout bounds one SQLite write from the sample path.
	storeTimeout = 5 * time.Second

	measurementStatistics = "yanzi_statistics"
)

// Bridge connects one Yanzi location to the Gray Logic MQTT bus.
// It handles:
//   - Keeping the source catalogue current (startup, then every refresh interval)
//   - Turning pushed samples into retained state messages
//   - Recording samples to SQLite and InfluxDB when configured
//   - Answering refresh/latest/entity requests
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      config.YanziConfig
	mqtt     MQTTClient
	location LocationReader
	registry *Registry
	bus      *Bus
	store    SourceStore  // optional
	points   SampleWriter // optional
	health   *HealthReporter

	requestTopic string // set once subscribed

	refreshMu   sync.Mutex
	lastRefresh atomic.Int64 // unix nanos

	statesPublished atomic.Uint64
	refreshes       atomic.Uint64
	refreshErrors   atomic.Uint64
	errorCount      atomic.Uint64
	unknownSamples  atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

// LocationReader is the Cirrus side of the bridge.
// *LocationService implements it.
type LocationReader interface {
	LocationID() string
	DeviceSources(ctx context.Context) ([]Source, error)
	GetLatest(ctx context.Context, dsa cirrus.DataSourceAddress) (json.RawMessage, bool, error)
	Watch(ctx context.Context, pub cirrus.Publisher) error
	WatchMonitor
}

// SourceStore persists the catalogue and samples. *Store implements it.
type SourceStore interface {
	UpsertSources(ctx context.Context, locationID string, sources []Source) error
	LoadSources(ctx context.Context, locationID string) ([]Source, error)
	SaveSample(ctx context.Context, key string, sample json.RawMessage, receivedAt time.Time) error
}

// SampleWriter records samples as time series. *influxdb.Client implements it.
type SampleWriter interface {
	WriteSample(s influxdb.Sample)
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config config.YanziConfig

	// BridgeID names the bridge in health messages. Default: "yanzi".
	BridgeID string

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient
	Location   LocationReader

	// Registry is optional; a registry over DefaultCatalog is created if nil.
	Registry *Registry

	// Store is optional SQLite persistence.
	Store SourceStore

	// Points is optional InfluxDB recording.
	Points SampleWriter

	Logger Logger
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	LocationID      string
	Sources         int
	Devices         int
	SamplesReceived uint64
	UnknownSamples  uint64
	StatesPublished uint64
	Refreshes       uint64
	RefreshErrors   uint64
	Errors          uint64
	LastRefresh     time.Time
	MQTTConnected   bool
	Watch           WatchStats
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Location == nil {
		return nil, fmt.Errorf("location reader is required")
	}
	if opts.Location.LocationID() == "" {
		return nil, fmt.Errorf("location id is required")
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(nil)
	}
	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		location:  opts.Location,
		registry:  registry,
		bus:       NewBus(),
		store:     opts.Store,
		points:    opts.Points,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   bridgeID,
		Version:    opts.Version,
		Address:    opts.Config.Host,
		LocationID: opts.Location.LocationID(),
		Interval:   opts.Config.GetHealthInterval(),
		Publisher:  opts.MQTTClient,
		Watch:      opts.Location,
		Statistics: b.statistics,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	b.bus.Subscribe(b.handleSample)

	return b, nil
}

// Start begins bridge operation. Cancelling ctx has the same effect on the
// background loops as Stop, except that Stop must still be called to wait
// for them.
func (b *Bridge) Start(ctx context.Context) error {
	context.AfterFunc(ctx, b.ctxCancel)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.loadFromStore(ctx)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.requestTopic = requestTopic
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.wg.Add(2)
	go b.refreshLoop()
	go b.watchLoop()

	b.health.Start(b.ctx)

	b.logInfo("bridge started",
		"location_id", b.location.LocationID(),
		"sources", b.registry.Len())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.requestTopic != "" {
			if err := b.mqtt.Unsubscribe(b.requestTopic); err != nil {
				b.logError("failed to unsubscribe from requests", err)
			}
		}
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Registry returns the entity registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Bus returns the sample bus; publishing on it has the same effect as a
// pushed subscription sample.
func (b *Bridge) Bus() *Bus {
	return b.bus
}

// loadFromStore seeds the registry with the persisted catalogue.
func (b *Bridge) loadFromStore(ctx context.Context) {
	if b.store == nil {
		return
	}

	sources, err := b.store.LoadSources(ctx, b.location.LocationID())
	if err != nil {
		b.logError("failed to load stored sources", err)
		return
	}
	if len(sources) == 0 {
		return
	}

	b.registry.Load(sources)
	b.health.SetDeviceCount(b.registry.DeviceCount())
	b.logInfo("loaded stored sources", "count", len(sources))
}

func (b *Bridge) refreshLoop() {
	defer b.wg.Done()

	interval := b.cfg.GetRefreshInterval()
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	for {
		if _, err := b.Refresh(b.ctx); err != nil && b.ctx.Err() == nil {
			b.logError("source refresh failed", err)
		}

		timer := time.NewTimer(interval)
		select {
		case <-b.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (b *Bridge) watchLoop() {
	defer b.wg.Done()
	b.location.Watch(b.ctx, b.bus) //nolint:errcheck // returns ctx.Err() on shutdown
}

// Refresh re-reads the source catalogue from Cirrus, replaces the registry
// content and republishes every entity state. It returns the number of
// sources found.
func (b *Bridge) Refresh(ctx context.Context) (int, error) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.refreshes.Add(1)

	sources, err := b.location.DeviceSources(ctx)
	if err != nil {
		b.refreshErrors.Add(1)
		return 0, err
	}

	b.registry.Load(sources)
	b.lastRefresh.Store(time.Now().UnixNano())
	b.health.SetDeviceCount(b.registry.DeviceCount())

	if b.store != nil {
		if err := b.store.UpsertSources(ctx, b.location.LocationID(), sources); err != nil {
			b.errorCount.Add(1)
			b.logError("failed to store sources", err)
		}
	}

	now := time.Now()
	for _, e := range b.registry.Entities(now) {
		src, _ := b.registry.Source(e.UniqueID)
		b.publishState(e, src.Latest)
	}

	b.logInfo("sources refreshed",
		"sources", len(sources),
		"devices", b.registry.DeviceCount())

	return len(sources), nil
}

// handleSample is the bus handler for every pushed sample.
func (b *Bridge) handleSample(key string, sample json.RawMessage) {
	now := time.Now()

	if b.registry.Update(key, sample, now) {
		if e, err := b.registry.Entity(key, now); err == nil {
			b.publishState(e, sample)
		}
	} else {
		b.unknownSamples.Add(1)
		b.logDebug("sample for uncatalogued source", "key", key)
	}

	b.recordSample(key, sample)

	if b.store != nil {
		ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
		defer cancel()
		if err := b.store.SaveSample(ctx, key, sample, now); err != nil {
			b.errorCount.Add(1)
			b.logError("failed to store sample", err)
		}
	}
}

func (b *Bridge) publishState(e Entity, sample json.RawMessage) {
	payload, err := json.Marshal(NewStateMessage(e, sample))
	if err != nil {
		b.errorCount.Add(1)
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(e.UniqueID), payload, 1, true); err != nil {
		b.errorCount.Add(1)
		b.logError("failed to publish state", err)
		return
	}
	b.statesPublished.Add(1)
}

// recordSample writes a sample to InfluxDB. Statistics samples are also
// decoded into their own measurement.
func (b *Bridge) recordSample(key string, sample json.RawMessage) {
	if b.points == nil {
		return
	}

	k, err := ParseKey(key)
	if err != nil {
		return
	}

	m := decodeSample(sample)
	ts := sampleTime(m)

	b.points.WriteSample(influxdb.Sample{
		LocationID: k.LocationID,
		DID:        k.DID,
		Variable:   k.Variable,
		Instance:   strconv.Itoa(k.Instance),
		Fields:     sampleFields(m),
		Time:       ts,
	})

	if k.Variable == "statistics" {
		if st, err := DecodeStatistics(lookupString(m, "value")); err == nil {
			b.points.WritePointWithTime(measurementStatistics,
				map[string]string{"location_id": k.LocationID, "did": k.DID},
				st.Fields(), ts)
		}
	}
}

// sampleTime returns the sample's sampleTime (epoch millis), or the zero
// time when absent.
func sampleTime(m map[string]any) time.Time {
	if ms, ok := lookupNumber(m, "sampleTime"); ok {
		return time.UnixMilli(int64(ms))
	}
	return time.Time{}
}

// sampleFields picks the fields of a sample worth recording: numbers and
// booleans, and the name of enum-like objects such as deviceUpState.
func sampleFields(m map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range m {
		if k == "resourceType" || k == "sampleTime" {
			continue
		}
		switch val := v.(type) {
		case float64, bool:
			fields[k] = val
		case map[string]any:
			if name, ok := val["name"].(string); ok {
				fields[k] = name
			}
		}
	}
	return fields
}

// handleMQTTMessage dispatches a request received on
// graylogic/request/yanzi/{request_id}. Requests run on their own goroutine
// so slow Cirrus calls do not stall the MQTT client.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = mqtt.DecodeTopicSegment(mqtt.LastSegment(topic))
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleRequest(req)
	}()
}

func (b *Bridge) handleRequest(req RequestMessage) {
	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	var resp ResponseMessage
	switch req.Action {
	case ActionRefresh:
		resp = b.handleRefresh(ctx, req)
	case ActionLatest:
		resp = b.handleLatest(ctx, req)
	case ActionEntity:
		resp = b.handleEntity(req)
	default:
		resp = newErrorResponse(req.RequestID, ErrCodeInvalidAction,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleRefresh(ctx context.Context, req RequestMessage) ResponseMessage {
	n, err := b.Refresh(ctx)
	if err != nil {
		return newErrorResponse(req.RequestID, ErrCodeUpstream, err.Error())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"sources": n,
			"devices": b.registry.DeviceCount(),
		},
	}
}

func (b *Bridge) handleLatest(ctx context.Context, req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return newErrorResponse(req.RequestID, ErrCodeInvalidParameters, "device_id is required")
	}
	k, err := ParseKey(req.DeviceID)
	if err != nil {
		return newErrorResponse(req.RequestID, ErrCodeInvalidParameters, err.Error())
	}

	sample, ok, err := b.location.GetLatest(ctx, k.Address())
	if err != nil {
		return newErrorResponse(req.RequestID, ErrCodeUpstream, err.Error())
	}
	if !ok {
		return newErrorResponse(req.RequestID, ErrCodeNotFound, "no sample available")
	}

	b.handleSample(req.DeviceID, sample)

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"sample": sample},
	}
}

func (b *Bridge) handleEntity(req RequestMessage) ResponseMessage {
	e, err := b.registry.Entity(req.DeviceID, time.Now())
	if err != nil {
		return newErrorResponse(req.RequestID, ErrCodeNotFound, err.Error())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      map[string]any{"entity": e},
	}
}

func (b *Bridge) statistics() BridgeStatistics {
	ws := b.location.WatchStats()
	return BridgeStatistics{
		SamplesReceived: b.bus.Published(),
		StatesPublished: b.statesPublished.Load(),
		Reconnects:      ws.Restarts,
		Errors:          b.errorCount.Load() + b.refreshErrors.Load(),
	}
}

// Stats returns current bridge counters.
func (b *Bridge) Stats() Stats {
	st := Stats{
		LocationID:      b.location.LocationID(),
		Sources:         b.registry.Len(),
		Devices:         b.registry.DeviceCount(),
		SamplesReceived: b.bus.Published(),
		UnknownSamples:  b.unknownSamples.Load(),
		StatesPublished: b.statesPublished.Load(),
		Refreshes:       b.refreshes.Load(),
		RefreshErrors:   b.refreshErrors.Load(),
		Errors:          b.errorCount.Load(),
		MQTTConnected:   b.mqtt.IsConnected(),
		Watch:           b.location.WatchStats(),
	}
	if ns := b.lastRefresh.Load(); ns != 0 {
		st.LastRefresh = time.Unix(0, ns)
	}
	return st
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
