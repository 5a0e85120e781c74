package yanzi

import (
	"errors"
	"testing"
)

func TestParseUnits(t *testing.T) {
	sources := testSources(t)

	if len(sources) != 7 {
		t.Fatalf("got %d sources, want 7", len(sources))
	}

	m := byKey(sources)
	for _, key := range []string{"ignored-log", "ignored-state"} {
		if _, ok := m[key]; ok {
			t.Errorf("source %q should be skipped", key)
		}
	}

	uplog := m[keyMotionUplog]
	if uplog.DeviceName != "Meeting Room" || uplog.Version != "1.2.3" ||
		uplog.UnitTypeFixed != unitTypePhysical || uplog.DID != "EUI64-A" ||
		uplog.ServerDID != testGateway || uplog.LocationID != testLocation {
		t.Errorf("uplog source = %+v", uplog)
	}

	motion := m[keyMotion]
	if motion.DID != "EUI64-A-3-Motion" || motion.UnitTypeFixed != "inputMotion" {
		t.Errorf("child source = %+v", motion)
	}
	if motion.DeviceName != "Meeting Room" || motion.DeviceKey != "unitA" || motion.DeviceDID != "EUI64-A" {
		t.Errorf("child source should carry the device: %+v", motion)
	}
	if motion.ServerDID != testGateway {
		t.Errorf("child server did = %q, want inherited %q", motion.ServerDID, testGateway)
	}

	temp, ok := m[keyTemperature]
	if !ok {
		t.Fatalf("derived key %q missing; keys = %v", keyTemperature, keys(m))
	}
	if temp.SIUnit != "kelvin" || temp.Variable != "temperatureK" {
		t.Errorf("temperature source = %+v", temp)
	}

	plug := m[keyPlugOutput]
	if plug.ProductType != "0090DA0301010491" || plug.LifeCycleState != "shadow" || plug.Version != "2.0.0" {
		t.Errorf("plug source = %+v", plug)
	}
}

func TestParseUnitsNoResult(t *testing.T) {
	resp := parsedResponse(t, map[string]any{
		"messageType":  "GraphQLResponse",
		"responseCode": map[string]any{"name": "errorNotAuthorized"},
	})
	if _, err := parseUnits(resp, testLocation); !errors.Is(err, ErrNoResult) {
		t.Errorf("error = %v, want ErrNoResult", err)
	}
}

func TestParseUnitsMultiPage(t *testing.T) {
	loc := testLocationData()
	loc["units"].(map[string]any)["endCursor"] = "c9"

	resp := parsedResponse(t, map[string]any{
		"messageType": "GraphQLResponse",
		"result":      graphQLResult(t, loc),
	})
	if _, err := parseUnits(resp, testLocation); !errors.Is(err, ErrMultiPage) {
		t.Errorf("error = %v, want ErrMultiPage", err)
	}
}

func TestParseUnitsBadResult(t *testing.T) {
	resp := parsedResponse(t, map[string]any{
		"messageType": "GraphQLResponse",
		"result":      "{not json",
	})
	if _, err := parseUnits(resp, testLocation); err == nil {
		t.Error("expected error for malformed result")
	}
}

func TestSourceHasSample(t *testing.T) {
	if (Source{}).HasSample() {
		t.Error("empty source has no sample")
	}
	if (Source{Latest: []byte("null")}).HasSample() {
		t.Error("null is not a sample")
	}
	if !(Source{Latest: []byte(`{"value":1}`)}).HasSample() {
		t.Error("expected sample")
	}
}

func keys(m map[string]Source) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
