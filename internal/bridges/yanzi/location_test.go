package yanzi

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
)

// locationResponder answers the requests a LocationService makes against
// testLocationData. Only the temperature and plug uplog sources have samples.
func locationResponder(t *testing.T) func(req map[string]any) []any {
	result := graphQLResult(t, testLocationData())

	return func(req map[string]any) []any {
		switch req["messageType"] {
		case "LoginRequest":
			return loginReply(req)
		case "GraphQLRequest":
			return []any{reply(req, "success", map[string]any{"result": result})}
		case "GetSamplesRequest":
			switch requestedVariable(req) {
			case "temperatureK":
				return []any{reply(req, "success", map[string]any{
					"sampleListDto": map[string]any{"list": []any{
						map[string]any{"resourceType": "SampleTemp", "value": 294.65, "sampleTime": 1700000000000},
					}},
				})}
			case "uplog":
				dsa, _ := req["dataSourceAddress"].(map[string]any)
				if dsa["did"] == "EUI64-B" {
					return []any{reply(req, "success", map[string]any{
						"sampleListDto": map[string]any{"list": []any{
							map[string]any{"resourceType": "SampleUpState", "deviceUpState": map[string]any{"name": "goingUp"}},
						}},
					})}
				}
			}
			return []any{reply(req, "success", map[string]any{"sampleListDto": map[string]any{}})}
		case "GetLocationsRequest":
			return []any{
				reply(req, "success", map[string]any{"list": []any{
					map[string]any{"locationAddress": map[string]any{"locationId": "loc1"}, "name": "Head Office"},
				}}),
				reply(req, "success", map[string]any{"list": []any{
					map[string]any{"locationAddress": map[string]any{"locationId": "loc2"}, "name": "Warehouse"},
				}}),
			}
		}
		return nil
	}
}

func newTestService(t *testing.T, f *fakeCirrus) *LocationService {
	t.Helper()
	svc, err := NewLocationService(f.serviceConfig())
	if err != nil {
		t.Fatalf("NewLocationService() error = %v", err)
	}
	return svc
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewLocationServiceNoCredentials(t *testing.T) {
	_, err := NewLocationService(config.YanziConfig{Host: "cirrus.example.com", LocationID: "loc1"})
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("NewLocationService() error = %v, want ErrNoCredentials", err)
	}
}

func TestNewLocationServiceTLSErrors(t *testing.T) {
	dir := t.TempDir()
	badCA := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(badCA, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tls  config.YanziTLSConfig
	}{
		{"missing cert", config.YanziTLSConfig{CertFile: filepath.Join(dir, "nope.pem"), KeyFile: filepath.Join(dir, "nope.key")}},
		{"missing CA", config.YanziTLSConfig{CAFile: filepath.Join(dir, "nope-ca.pem")}},
		{"CA without certificates", config.YanziTLSConfig{CAFile: badCA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.YanziConfig{Host: "h", LocationID: "loc1", AccessToken: "tok", TLS: tt.tls}
			if _, err := NewLocationService(cfg); err == nil {
				t.Error("NewLocationService() error = nil, want error")
			}
		})
	}
}

func TestLocationServiceCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.YanziConfig
		want *cirrus.LoginRequest
	}{
		{
			name: "password wins",
			cfg:  config.YanziConfig{Username: "u", Password: "p", AccessToken: "tok", SessionID: "sid"},
			want: &cirrus.LoginRequest{Username: "u", Password: "p"},
		},
		{
			name: "access token",
			cfg:  config.YanziConfig{Username: "u", AccessToken: "tok", SessionID: "sid"},
			want: &cirrus.LoginRequest{AccessToken: "tok"},
		},
		{
			name: "session id",
			cfg:  config.YanziConfig{SessionID: "sid"},
			want: &cirrus.LoginRequest{SessionID: "sid"},
		},
		{
			name: "certificate only",
			cfg:  config.YanziConfig{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &LocationService{cfg: tt.cfg}
			got := svc.credentials()
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("credentials() = %+v, want nil", got)
			case tt.want != nil && (got == nil || !reflect.DeepEqual(*got, *tt.want)):
				t.Errorf("credentials() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLocationServiceDeviceSources(t *testing.T) {
	f := newFakeCirrus(t, locationResponder(t))
	svc := newTestService(t, f)

	sources, err := svc.DeviceSources(testContext(t))
	if err != nil {
		t.Fatalf("DeviceSources() error = %v", err)
	}
	if len(sources) != 7 {
		t.Fatalf("DeviceSources() returned %d sources, want 7", len(sources))
	}

	m := byKey(sources)
	temp, ok := m[keyTemperature]
	if !ok {
		t.Fatalf("no source %s", keyTemperature)
	}
	if !temp.HasSample() {
		t.Fatal("temperature source has no sample")
	}
	var sample struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(temp.Latest, &sample); err != nil || sample.Value != 294.65 {
		t.Errorf("temperature sample = %s (%v)", temp.Latest, err)
	}

	if !m[keyPlugUplog].HasSample() {
		t.Error("plug uplog has no sample")
	}
	if m[keyMotion].HasSample() {
		t.Errorf("motion sample = %s, want none", m[keyMotion].Latest)
	}

	logins := f.requestsOfType("LoginRequest")
	if len(logins) != 1 || logins[0]["username"] != "user@example.com" {
		t.Errorf("logins = %v, want one with the configured username", logins)
	}
}

func TestLocationServiceDeviceSourcesNoResult(t *testing.T) {
	f := newFakeCirrus(t, func(req map[string]any) []any {
		switch req["messageType"] {
		case "LoginRequest":
			return loginReply(req)
		case "GraphQLRequest":
			return []any{reply(req, "success", nil)}
		}
		return nil
	})
	svc := newTestService(t, f)

	if _, err := svc.DeviceSources(testContext(t)); !errors.Is(err, ErrNoResult) {
		t.Errorf("DeviceSources() error = %v, want ErrNoResult", err)
	}
}

func TestLocationServiceLoginRefused(t *testing.T) {
	f := newFakeCirrus(t, func(req map[string]any) []any {
		if req["messageType"] == "LoginRequest" {
			return []any{reply(req, "unauthorized", map[string]any{"sessionId": nil})}
		}
		return []any{reply(req, "success", nil)}
	})
	svc := newTestService(t, f)

	sess, err := svc.Connect(testContext(t))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthenticationFailed", err)
	}
	if sess != nil {
		t.Errorf("Connect() returned a session in state %v", sess.State())
	}

	if _, err := svc.DeviceSources(testContext(t)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("DeviceSources() error = %v, want ErrAuthenticationFailed", err)
	}
	if n := len(f.requestsOfType("GraphQLRequest")); n != 0 {
		t.Errorf("%d GraphQL requests sent without a session", n)
	}
}

func TestLocationServiceGetLatest(t *testing.T) {
	f := newFakeCirrus(t, locationResponder(t))
	svc := newTestService(t, f)
	ctx := testContext(t)

	key, err := ParseKey(keyTemperature)
	if err != nil {
		t.Fatal(err)
	}
	sample, ok, err := svc.GetLatest(ctx, key.Address())
	if err != nil || !ok {
		t.Fatalf("GetLatest() = %s, %v, %v", sample, ok, err)
	}

	key, _ = ParseKey(keyMotion) //nolint:errcheck // fixed fixture
	sample, ok, err = svc.GetLatest(ctx, key.Address())
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if ok || sample != nil {
		t.Errorf("GetLatest() = %s, %v, want no sample", sample, ok)
	}
}

func TestLocationServiceGetLatestRejected(t *testing.T) {
	f := newFakeCirrus(t, func(req map[string]any) []any {
		switch req["messageType"] {
		case "LoginRequest":
			return loginReply(req)
		case "GetSamplesRequest":
			return []any{reply(req, "errorNoPermission", nil)}
		}
		return nil
	})
	svc := newTestService(t, f)

	key, _ := ParseKey(keyTemperature) //nolint:errcheck // fixed fixture
	sample, ok, err := svc.GetLatest(testContext(t), key.Address())
	if err != nil || ok || sample != nil {
		t.Errorf("GetLatest() = %s, %v, %v, want no sample and no error", sample, ok, err)
	}
}

func TestLocationServiceLocations(t *testing.T) {
	f := newFakeCirrus(t, locationResponder(t))
	svc := newTestService(t, f)
	ctx := testContext(t)

	locations, err := svc.Locations(ctx)
	if err != nil {
		t.Fatalf("Locations() error = %v", err)
	}
	if len(locations) != 2 || locations["loc1"] != "Head Office" || locations["loc2"] != "Warehouse" {
		t.Errorf("Locations() = %v", locations)
	}

	name, err := svc.LocationName(ctx, "loc2")
	if err != nil || name != "Warehouse" {
		t.Errorf("LocationName(loc2) = %q, %v", name, err)
	}
	if _, err := svc.LocationName(ctx, "loc9"); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("LocationName(loc9) error = %v, want ErrInvalidLocation", err)
	}
}

func TestLocationServiceWatch(t *testing.T) {
	subscribeData := func() map[string]any {
		return map[string]any{
			"messageType": "SubscribeData",
			"list": []any{
				map[string]any{
					"dataSourceAddress": map[string]any{
						"resourceType":   "DataSourceAddress",
						"serverDid":      testGateway,
						"locationId":     testLocation,
						"did":            "EUI64-A-3-Temp",
						"variableName":   map[string]any{"resourceType": "VariableName", "name": "temperatureK"},
						"instanceNumber": 0,
					},
					"list": []any{map[string]any{"resourceType": "SampleTemp", "value": 295.15}},
				},
			},
		}
	}

	f := newFakeCirrus(t, func(req map[string]any) []any {
		switch req["messageType"] {
		case "LoginRequest":
			return loginReply(req)
		case "SubscribeRequest":
			return []any{
				subscribeReply(req),
				map[string]any{"messageType": "SubscribeData", "list": []any{}},
				subscribeData(),
			}
		}
		return nil
	})
	svc := newTestService(t, f)

	type published struct {
		key    string
		sample json.RawMessage
	}
	got := make(chan published, 4)
	var once sync.Once

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, cirrus.PublisherFunc(func(key string, sample json.RawMessage) {
			once.Do(func() { got <- published{key, sample} })
		}))
	}()

	select {
	case p := <-got:
		if p.key != keyTemperature {
			t.Errorf("published key = %q, want %q", p.key, keyTemperature)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no sample published")
	}

	st := svc.WatchStats()
	if st.Samples != 1 {
		t.Errorf("WatchStats().Samples = %d, want 1", st.Samples)
	}
	if st.Attempts < 1 {
		t.Errorf("WatchStats().Attempts = %d, want at least 1", st.Attempts)
	}

	subs := f.requestsOfType("SubscribeRequest")
	if len(subs) != 1 {
		t.Fatalf("subscribe requests = %d, want 1", len(subs))
	}
	unit, _ := subs[0]["unitAddress"].(map[string]any)
	if unit["locationId"] != testLocation {
		t.Errorf("subscribed unitAddress = %v", unit)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	if svc.Watching() {
		t.Error("Watching() = true after Watch returned")
	}
}

func TestDecodeSubscribeData(t *testing.T) {
	resp := parsedResponse(t, map[string]any{
		"messageType": "SubscribeData",
		"list": []any{
			map[string]any{
				"dataSourceAddress": map[string]any{
					"serverDid":      testGateway,
					"locationId":     testLocation,
					"did":            "EUI64-B",
					"variableName":   map[string]any{"name": "onOffOutput"},
					"instanceNumber": 0,
				},
				"list": []any{
					map[string]any{"value": map[string]any{"name": "on"}},
					map[string]any{"value": map[string]any{"name": "off"}},
				},
			},
		},
	})

	key, sample, err := decodeSubscribeData(resp)
	if err != nil {
		t.Fatalf("decodeSubscribeData() error = %v", err)
	}
	if key != keyPlugOutput {
		t.Errorf("key = %q, want %q", key, keyPlugOutput)
	}
	if got := SwitchState(sample); got == nil || !*got {
		t.Errorf("first sample = %s, want the on state", sample)
	}
}

func TestDecodeSubscribeDataEmpty(t *testing.T) {
	for _, list := range []any{
		[]any{},
		[]any{map[string]any{"dataSourceAddress": map[string]any{"did": "x"}, "list": []any{}}},
	} {
		resp := parsedResponse(t, map[string]any{"messageType": "SubscribeData", "list": list})
		if _, _, err := decodeSubscribeData(resp); !errors.Is(err, cirrus.ErrInvalidFrame) {
			t.Errorf("decodeSubscribeData(%v) error = %v, want ErrInvalidFrame", list, err)
		}
	}
}
