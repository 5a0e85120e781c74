// Package yanzi bridges a Yanzi location to Gray Logic.
//
// It reads the location's device inventory over the Cirrus API, keeps a
// subscription open for pushed samples, and republishes every sample as a
// retained state message on the Gray Logic MQTT bus.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   Cirrus
//	│   Gray Logic    │   MQTT   │  Yanzi Bridge   │  WebSocket   ┌──────────┐
//	│      Core       │◄────────►│   (this pkg)    │◄────────────►│  Yanzi   │
//	└─────────────────┘          └───────┬─────────┘              │  cloud   │
//	                                     │                        └──────────┘
//	                              SQLite │ InfluxDB
//
// # Key Responsibilities
//
//   - List the physical units of a location and their data sources (GraphQL)
//   - Fetch the latest sample of each source on refresh
//   - Watch the location subscription and reconnect it when it fails
//   - Map data sources to sensor, binary sensor and switch entities
//   - Publish state, health and request responses to MQTT
//
// # Data Source Keys
//
// Every data source is identified by
//
//	serverDid/locationId/did/variableName/instanceNumber
//
// The key is escaped into a single topic level for state topics:
//
//	graylogic/state/yanzi/EUI64-0090DA0301020423%2F123456%2FEUI64-0090DA0301010521-3-Temp%2FtemperatureK%2F0
//
// # Entities
//
// uplog and motion sources are binary sensors, onOffOutput is a read-only
// switch, onOffTransition is ignored and everything else is a sensor. An
// uplog sample moves its whole device between present and shadow; entities
// of a shadow device are unavailable.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package yanzi
