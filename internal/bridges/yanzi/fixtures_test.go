package yanzi

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
)

const (
	testLocation = "loc1"
	testGateway  = "EUI64-GW"
)

// Keys of the sources in testLocationData.
const (
	keyMotionUplog = testGateway + "/" + testLocation + "/EUI64-A/uplog/0"
	keyStatistics  = testGateway + "/" + testLocation + "/EUI64-A/statistics/0"
	keyMotion      = testGateway + "/" + testLocation + "/EUI64-A-3-Motion/motion/0"
	keyTemperature = testGateway + "/" + testLocation + "/EUI64-A-3-Temp/temperatureK/0"
	keyPlugUplog   = testGateway + "/" + testLocation + "/EUI64-B/uplog/0"
	keyPlugOutput  = testGateway + "/" + testLocation + "/EUI64-B/onOffOutput/0"
	keyPlugTrans   = testGateway + "/" + testLocation + "/EUI64-B/onOffTransition/0"
)

// testLocationData is the data.location object of a GraphQL units query:
// a Motion+ with two chassis children and a plug in shadow.
// The temperature source has no key, so its key is derived.
func testLocationData() map[string]any {
	return map[string]any{
		"units": map[string]any{
			"cursor":    "c1",
			"endCursor": "c1",
			"list": []any{
				map[string]any{
					"key":            "unitA",
					"productType":    "0090DA0301010521",
					"name":           "Meeting Room",
					"lifeCycleState": "present",
					"unitAddress":    map[string]any{"did": "EUI64-A", "serverDid": testGateway},
					"dataSources": []any{
						map[string]any{"key": "ignored-log", "variableName": "log", "siUnit": "NA"},
						map[string]any{"key": "ignored-state", "variableName": "unitState", "siUnit": "NA"},
						map[string]any{"key": keyMotionUplog, "variableName": "uplog", "siUnit": "NA"},
						map[string]any{"key": keyStatistics, "variableName": "statistics", "siUnit": "NA"},
					},
					"chassisChildren": []any{
						map[string]any{
							"unitTypeFixed": "inputMotion",
							"unitAddress":   map[string]any{"did": "EUI64-A-3-Motion"},
							"dataSources": []any{
								map[string]any{"key": keyMotion, "variableName": "motion", "siUnit": "NA"},
							},
						},
						map[string]any{
							"unitTypeFixed": "temp",
							"unitAddress":   map[string]any{"did": "EUI64-A-3-Temp"},
							"dataSources": []any{
								map[string]any{"key": "", "variableName": "temperatureK", "siUnit": "kelvin"},
							},
						},
					},
				},
				map[string]any{
					"key":            "unitB",
					"productType":    "0090DA0301010491",
					"name":           "Coffee Machine",
					"lifeCycleState": "shadow",
					"unitAddress":    map[string]any{"did": "EUI64-B", "serverDid": testGateway},
					"dataSources": []any{
						map[string]any{"key": keyPlugUplog, "variableName": "uplog", "siUnit": "NA"},
						map[string]any{"key": keyPlugOutput, "variableName": "onOffOutput", "siUnit": "NA"},
						map[string]any{"key": keyPlugTrans, "variableName": "onOffTransition", "siUnit": "NA"},
					},
					"chassisChildren": []any{},
				},
			},
		},
		"inventory": map[string]any{
			"list": []any{
				map[string]any{"key": "unitA", "version": "1.2.3"},
				map[string]any{"key": "unitB", "version": "2.0.0"},
			},
		},
	}
}

// graphQLResult encodes location as the string carried in "result".
func graphQLResult(t *testing.T, location map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"data": map[string]any{"location": location}})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// parsedResponse builds a cirrus.Response from an envelope object.
func parsedResponse(t *testing.T, envelope map[string]any) *cirrus.Response {
	t.Helper()
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := cirrus.ParseResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// testSources returns the parsed sources of testLocationData.
func testSources(t *testing.T) []Source {
	t.Helper()
	resp := parsedResponse(t, map[string]any{
		"messageType": "GraphQLResponse",
		"result":      graphQLResult(t, testLocationData()),
	})
	sources, err := parseUnits(resp, testLocation)
	if err != nil {
		t.Fatalf("parseUnits() error = %v", err)
	}
	return sources
}

// byKey indexes sources by key.
func byKey(sources []Source) map[string]Source {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Key] = s
	}
	return m
}
