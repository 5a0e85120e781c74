package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSample is the measurement every Yanzi sample is written to.
const MeasurementSample = "yanzi_sample"

// Sample is one decoded Yanzi reading.
//
// Tags identify the data source; Fields carry whatever the variable
// reported (value, instantPower, percentFull, ...). Non-numeric fields are
// written as strings by the client library.
type Sample struct {
	LocationID string
	DID        string
	Variable   string
	Instance   string
	Fields     map[string]any
	Time       time.Time
}

// samplePoint converts a Sample to a line-protocol point.
// A zero Time means now.
func samplePoint(s Sample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"location_id": s.LocationID,
		"did":         s.DID,
		"variable":    s.Variable,
	}
	if s.Instance != "" {
		tags["instance"] = s.Instance
	}
	return write.NewPoint(MeasurementSample, tags, s.Fields, ts)
}

// WriteSample queues a Yanzi sample. Samples without fields are dropped,
// since InfluxDB rejects points with no fields.
//
// Example:
//
//	client.WriteSample(influxdb.Sample{
//	    LocationID: "123456",
//	    DID:        "EUI64-0080E10300099999-3-Temp",
//	    Variable:   "temperatureK",
//	    Fields:     map[string]any{"value": 294.65},
//	    Time:       sampleTime,
//	})
func (c *Client) WriteSample(s Sample) {
	if !c.IsConnected() || len(s.Fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(samplePoint(s))
}

// WritePointWithTime writes a point with explicit tags, fields and time.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
