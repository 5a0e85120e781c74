// Package influxdb records Yanzi samples in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every sample the
// bridge receives, from a watch subscription or a latest-value query, is
// written as one point of the yanzi_sample measurement tagged with the
// location, device id and variable name.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // optional sink
//	}
//	defer client.Close()
//
//	client.WriteSample(influxdb.Sample{LocationID: "123456", DID: did,
//	    Variable: "temperatureK", Fields: map[string]any{"value": 294.6}})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures go to the SetOnError
// callback; connection and health check errors are returned directly.
package influxdb
