// Package mqtt connects the Yanzi bridge to the Gray Logic MQTT bus.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Publishing with QoS and payload size checks
//   - Tracked subscriptions that survive reconnects
//   - A retained status topic backed by Last Will and Testament
//
// The bridge publishes one retained state message per Yanzi data source
// and its health document, and listens for requests addressed to it:
//
//	Yanzi cloud ↔ yanzibridge ↔ MQTT broker ↔ Gray Logic Core
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
//	    Topic:   mqtt.Topics{}.BridgeHealth("yanzi"),
//	    Offline: health.GetLWTPayload(),
//	}))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeState("yanzi", mqtt.EncodeTopicSegment(key))
//	client.Publish(topic, payload, 1, true)
//
// # Security
//
// Use TLS (mqtt.broker.tls) whenever the broker is not on localhost.
// Payloads carry sensor values only; no Yanzi credentials are published.
package mqtt
