package yanzi

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/mqtt"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "yanzi"

// Request actions understood by the bridge.
const (
	ActionRefresh = "refresh"
	ActionLatest  = "latest"
	ActionEntity  = "entity"
)

// Error codes for failed requests.
const (
	ErrCodeInvalidAction     = "INVALID_ACTION"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
)

// StateMessage is published whenever a data source reports a sample.
// Topic: graylogic/state/yanzi/{encoded key}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the data source key.
	DeviceID string `json:"device_id"`

	Timestamp time.Time `json:"timestamp"`

	// State holds the derived entity state plus the raw sample:
	//   {"kind": "sensor", "value": 21.5, "unit": "°C", "available": true, "sample": {...}}
	State map[string]any `json:"state"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline" // from LWT
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/yanzi
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Connection describes the Cirrus subscription session.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of physical Yanzi units catalogued.
	DevicesManaged int `json:"devices_managed"`

	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the Cirrus connection state.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the Cirrus host.
	Address string `json:"address"`

	// LocationID is the watched location.
	LocationID string `json:"location_id"`

	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	SamplesReceived uint64 `json:"samples_received"`
	StatesPublished uint64 `json:"states_published"`
	Reconnects      uint64 `json:"reconnects"`
	Errors          uint64 `json:"errors"`
}

// RequestMessage asks the bridge to do something.
// Topic: graylogic/request/yanzi/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of "refresh", "latest" or "entity".
	Action string `json:"action"`

	// DeviceID is the data source key for "latest" and "entity".
	DeviceID string `json:"device_id,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/yanzi/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewStateMessage builds the state message for an entity view.
func NewStateMessage(e Entity, sample json.RawMessage) StateMessage {
	state := map[string]any{
		"kind":      string(e.Kind),
		"value":     e.State,
		"available": e.Available,
	}
	if e.Unit != "" {
		state["unit"] = e.Unit
	}
	if e.DeviceClass != "" {
		state["device_class"] = e.DeviceClass
	}
	if len(sample) > 0 {
		state["sample"] = sample
	}

	return StateMessage{
		DeviceID:  e.UniqueID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   e.UniqueID,
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func newErrorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

var topics = mqtt.Topics{}

// StateTopic returns the state topic of a data source key.
// Example: graylogic/state/yanzi/EUI64-1%2Floc1%2FEUI64-2%2FtemperatureC%2F0
func StateTopic(key string) string {
	return topics.BridgeState(Protocol, mqtt.EncodeTopicSegment(key))
}

// HealthTopic returns graylogic/health/yanzi.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// RequestTopic returns the topic of one request. The id is escaped to a
// single topic level.
func RequestTopic(requestID string) string {
	return topics.BridgeRequest(Protocol, mqtt.EncodeTopicSegment(requestID))
}

// ResponseTopic returns the topic of one response.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, mqtt.EncodeTopicSegment(requestID))
}

// RequestSubscribeTopic returns graylogic/request/yanzi/+.
func RequestSubscribeTopic() string {
	return topics.BridgeRequests(Protocol)
}
