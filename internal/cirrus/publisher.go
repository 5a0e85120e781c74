package cirrus

import "encoding/json"

// Publisher receives one subscription sample per call, keyed by the
// sample's data source.
type Publisher interface {
	Publish(key string, sample json.RawMessage)
}

// PublisherFunc adapts an ordinary function to Publisher.
type PublisherFunc func(key string, sample json.RawMessage)

// Publish calls f(key, sample).
func (f PublisherFunc) Publish(key string, sample json.RawMessage) {
	f(key, sample)
}
