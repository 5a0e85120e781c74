package yanzi

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", StateTopic("GW/loc1/EUI64-A/temperatureK/0"), "graylogic/state/yanzi/GW%2Floc1%2FEUI64-A%2FtemperatureK%2F0"},
		{"state escapes wildcards", StateTopic("a+b#c"), "graylogic/state/yanzi/a%2Bb%23c"},
		{"health", HealthTopic(), "graylogic/health/yanzi"},
		{"request", RequestTopic("req-1"), "graylogic/request/yanzi/req-1"},
		{"response", ResponseTopic("req-1"), "graylogic/response/yanzi/req-1"},
		{"escaped request", RequestTopic("a/b"), "graylogic/request/yanzi/a%2Fb"},
		{"requests", RequestSubscribeTopic(), "graylogic/request/yanzi/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewStateMessage(t *testing.T) {
	e := Entity{
		UniqueID:    keyTemperature,
		Kind:        KindSensor,
		DeviceClass: "temperature",
		Unit:        "°C",
		State:       21.5,
		Available:   true,
	}
	msg := NewStateMessage(e, json.RawMessage(`{"value":294.65}`))

	if msg.DeviceID != keyTemperature || msg.Address != keyTemperature || msg.Protocol != Protocol {
		t.Errorf("message = %+v", msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		State map[string]any `json:"state"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	s := decoded.State
	if s["kind"] != "sensor" || s["value"] != 21.5 || s["available"] != true ||
		s["unit"] != "°C" || s["device_class"] != "temperature" {
		t.Errorf("state = %v", s)
	}
	if sample, ok := s["sample"].(map[string]any); !ok || sample["value"] != 294.65 {
		t.Errorf("state sample = %v", s["sample"])
	}
}

func TestNewStateMessageWithoutSample(t *testing.T) {
	msg := NewStateMessage(Entity{UniqueID: keyMotion, Kind: KindBinarySensor}, nil)

	for _, k := range []string{"sample", "unit", "device_class"} {
		if _, ok := msg.State[k]; ok {
			t.Errorf("state has %q: %v", k, msg.State)
		}
	}
	if msg.State["value"] != nil {
		t.Errorf("value = %v, want nil", msg.State["value"])
	}
}

func TestNewErrorResponse(t *testing.T) {
	before := time.Now().UTC()
	resp := newErrorResponse("req-1", ErrCodeNotFound, "gone")

	if resp.Success || resp.RequestID != "req-1" || resp.Error == nil ||
		resp.Error.Code != ErrCodeNotFound || resp.Error.Message != "gone" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Timestamp.Before(before) {
		t.Errorf("timestamp %v before %v", resp.Timestamp, before)
	}
}
