package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "yanzi"

// bridgeCollector exports the bridge and Cirrus session counters at scrape
// time, so nothing has to be updated on the sample path.
type bridgeCollector struct {
	server *Server

	sources         *prometheus.Desc
	devices         *prometheus.Desc
	samples         *prometheus.Desc
	unknownSamples  *prometheus.Desc
	statesPublished *prometheus.Desc
	refreshes       *prometheus.Desc
	refreshErrors   *prometheus.Desc
	errors          *prometheus.Desc
	mqttConnected   *prometheus.Desc
	wsClients       *prometheus.Desc

	cirrusConnected  *prometheus.Desc
	cirrusRestarts   *prometheus.Desc
	cirrusFramesRx   *prometheus.Desc
	cirrusDropped    *prometheus.Desc
	cirrusRequests   *prometheus.Desc
	cirrusTimeouts   *prometheus.Desc
	cirrusKeepAlives *prometheus.Desc
	cirrusWatchers   *prometheus.Desc
}

func newBridgeCollector(s *Server) *bridgeCollector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, subsystem, name),
			help, nil, nil)
	}

	return &bridgeCollector{
		server: s,

		sources:         desc("bridge", "sources", "Catalogued data sources."),
		devices:         desc("bridge", "devices", "Catalogued physical units."),
		samples:         desc("bridge", "samples_received_total", "Samples received from the subscription."),
		unknownSamples:  desc("bridge", "unknown_samples_total", "Samples for uncatalogued sources."),
		statesPublished: desc("bridge", "states_published_total", "State messages published to MQTT."),
		refreshes:       desc("bridge", "refreshes_total", "Source catalogue refreshes."),
		refreshErrors:   desc("bridge", "refresh_errors_total", "Failed source catalogue refreshes."),
		errors:          desc("bridge", "errors_total", "Publish and storage errors."),
		mqttConnected:   desc("bridge", "mqtt_connected", "1 while the MQTT client is connected."),
		wsClients:       desc("api", "websocket_clients", "Connected WebSocket clients."),

		cirrusConnected:  desc("cirrus", "connected", "1 while the subscription session is healthy."),
		cirrusRestarts:   desc("cirrus", "restarts_total", "Subscription session restarts."),
		cirrusFramesRx:   desc("cirrus", "frames_received_total", "Frames received on the current session."),
		cirrusDropped:    desc("cirrus", "frames_dropped_total", "Text frames on the current session that were not JSON objects."),
		cirrusRequests:   desc("cirrus", "requests_total", "Requests sent on the current session."),
		cirrusTimeouts:   desc("cirrus", "timeouts_total", "Reads on the current session that timed out."),
		cirrusKeepAlives: desc("cirrus", "keepalives_total", "Keep-alive round trips on the current session."),
		cirrusWatchers:   desc("cirrus", "watchers", "Registered watchers on the current session."),
	}
}

// Describe implements prometheus.Collector.
func (c *bridgeCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.sources, c.devices, c.samples, c.unknownSamples, c.statesPublished,
		c.refreshes, c.refreshErrors, c.errors, c.mqttConnected, c.wsClients,
		c.cirrusConnected, c.cirrusRestarts, c.cirrusFramesRx, c.cirrusDropped,
		c.cirrusRequests, c.cirrusTimeouts, c.cirrusKeepAlives, c.cirrusWatchers,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *bridgeCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.server.bridge.Stats()
	sess := st.Watch.Session

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.sources, float64(st.Sources))
	gauge(c.devices, float64(st.Devices))
	counter(c.samples, st.SamplesReceived)
	counter(c.unknownSamples, st.UnknownSamples)
	counter(c.statesPublished, st.StatesPublished)
	counter(c.refreshes, st.Refreshes)
	counter(c.refreshErrors, st.RefreshErrors)
	counter(c.errors, st.Errors)
	gauge(c.mqttConnected, boolFloat(st.MQTTConnected))
	gauge(c.wsClients, float64(c.server.hub.ClientCount()))

	gauge(c.cirrusConnected, boolFloat(st.Watch.Connected))
	counter(c.cirrusRestarts, st.Watch.Restarts)
	counter(c.cirrusFramesRx, sess.FramesRx)
	counter(c.cirrusDropped, sess.FramesDropped)
	counter(c.cirrusRequests, sess.RequestsTx)
	counter(c.cirrusTimeouts, sess.Timeouts)
	counter(c.cirrusKeepAlives, sess.KeepAlives)
	gauge(c.cirrusWatchers, float64(sess.Watchers))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// newMetricsRegistry builds the registry served on /metrics: the bridge
// collector plus the Go runtime and process collectors.
func newMetricsRegistry(s *Server) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		newBridgeCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
