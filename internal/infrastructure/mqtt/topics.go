package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{address}.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for the MQTT topics the bridge touches.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("yanzi", "EUI64-0080E10300099999%2F...")
//	// graylogic/state/yanzi/EUI64-0080E10300099999%2F...
type Topics struct{}

// BridgeState returns the retained state topic for one data source.
//
// Example: graylogic/state/yanzi/<encoded-key>
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/yanzi
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeRequest returns the topic for one request to a bridge.
//
// Example: graylogic/request/yanzi/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeRequests returns the pattern matching every request to a bridge.
//
// Pattern: graylogic/request/yanzi/+
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefixBridge, protocol)
}

// BridgeResponse returns the topic a bridge answers a request on.
//
// Example: graylogic/response/yanzi/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// EncodeTopicSegment makes s safe to use as a single topic level.
// Slashes become %2F and the MQTT wildcards + and # are escaped too.
func EncodeTopicSegment(s string) string {
	return topicEscaper.Replace(s)
}

// DecodeTopicSegment reverses EncodeTopicSegment.
func DecodeTopicSegment(s string) string {
	return topicUnescaper.Replace(s)
}

// LastSegment returns the text after the final '/' of a topic.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

var (
	topicEscaper   = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")
	topicUnescaper = strings.NewReplacer("%2F", "/", "%2B", "+", "%23", "#", "%25", "%")
)
