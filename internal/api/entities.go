package api

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-yanzi/internal/bridges/yanzi"
)

// statsResponse is the body of GET /api/v1/stats.
type statsResponse struct {
	LocationID      string     `json:"location_id"`
	Sources         int        `json:"sources"`
	Devices         int        `json:"devices"`
	SamplesReceived uint64     `json:"samples_received"`
	UnknownSamples  uint64     `json:"unknown_samples"`
	StatesPublished uint64     `json:"states_published"`
	Refreshes       uint64     `json:"refreshes"`
	RefreshErrors   uint64     `json:"refresh_errors"`
	Errors          uint64     `json:"errors"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	MQTTConnected   bool       `json:"mqtt_connected"`
	Watch           watchStats `json:"watch"`
}

type watchStats struct {
	Connected     bool       `json:"connected"`
	Samples       uint64     `json:"samples"`
	Attempts      uint64     `json:"attempts"`
	Restarts      uint64     `json:"restarts"`
	LastError     string     `json:"last_error,omitempty"`
	State         string     `json:"state"`
	FramesRx      uint64     `json:"frames_rx"`
	FramesDropped uint64     `json:"frames_dropped"`
	RequestsTx    uint64     `json:"requests_tx"`
	Timeouts      uint64     `json:"timeouts"`
	KeepAlives    uint64     `json:"keep_alives"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// deviceResponse groups the entities of one physical unit.
type deviceResponse struct {
	yanzi.DeviceInfo
	Available bool     `json:"available"`
	Entities  []string `json:"entities"`
}

func toStatsResponse(st yanzi.Stats) statsResponse {
	resp := statsResponse{
		LocationID:      st.LocationID,
		Sources:         st.Sources,
		Devices:         st.Devices,
		SamplesReceived: st.SamplesReceived,
		UnknownSamples:  st.UnknownSamples,
		StatesPublished: st.StatesPublished,
		Refreshes:       st.Refreshes,
		RefreshErrors:   st.RefreshErrors,
		Errors:          st.Errors,
		MQTTConnected:   st.MQTTConnected,
		Watch: watchStats{
			Connected:     st.Watch.Connected,
			Samples:       st.Watch.Samples,
			Attempts:      st.Watch.Attempts,
			Restarts:      st.Watch.Restarts,
			LastError:     st.Watch.LastError,
			State:         st.Watch.Session.State.String(),
			FramesRx:      st.Watch.Session.FramesRx,
			FramesDropped: st.Watch.Session.FramesDropped,
			RequestsTx:    st.Watch.Session.RequestsTx,
			Timeouts:      st.Watch.Session.Timeouts,
			KeepAlives:    st.Watch.Session.KeepAlives,
		},
	}
	if !st.LastRefresh.IsZero() {
		t := st.LastRefresh.UTC()
		resp.LastRefresh = &t
	}
	if !st.Watch.Session.LastActivity.IsZero() {
		t := st.Watch.Session.LastActivity.UTC()
		resp.Watch.LastActivity = &t
	}
	return resp
}

// handleHealth reports ok while both MQTT and the Cirrus subscription are
// up, and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.bridge.Stats()

	status, code := "ok", http.StatusOK
	if !st.MQTTConnected || !st.Watch.Connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":           status,
		"version":          s.version,
		"uptime_seconds":   int64(time.Since(s.startTime).Seconds()),
		"location_id":      st.LocationID,
		"mqtt_connected":   st.MQTTConnected,
		"cirrus_connected": st.Watch.Connected,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatsResponse(s.bridge.Stats()))
}

// handleListEntities returns every entity, optionally filtered by
// ?kind= and ?device= (device key).
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	device := r.URL.Query().Get("device")

	entities := make([]yanzi.Entity, 0)
	for _, e := range s.bridge.Registry().Entities(time.Now()) {
		if kind != "" && string(e.Kind) != kind {
			continue
		}
		if device != "" && (len(e.Device.Identifiers) == 0 || e.Device.Identifiers[0] != device) {
			continue
		}
		entities = append(entities, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleGetEntity returns one entity. Keys contain slashes, so clients
// send them path-escaped.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeBadRequest(w, "invalid entity key")
		return
	}

	e, err := s.bridge.Registry().Entity(key, time.Now())
	if errors.Is(err, yanzi.ErrUnknownSource) {
		writeNotFound(w, "entity not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to build entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleListDevices groups entities by physical unit.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	byKey := make(map[string]*deviceResponse)
	for _, e := range s.bridge.Registry().Entities(time.Now()) {
		if len(e.Device.Identifiers) == 0 {
			continue
		}
		id := e.Device.Identifiers[0]
		d, ok := byKey[id]
		if !ok {
			d = &deviceResponse{DeviceInfo: e.Device, Available: e.Available}
			byKey[id] = d
		}
		d.Entities = append(d.Entities, e.UniqueID)
	}

	devices := make([]deviceResponse, 0, len(byKey))
	for _, d := range byKey {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Identifiers[0] < devices[j].Identifiers[0]
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
