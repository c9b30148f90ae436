// Package mqtt provides the bridge's MQTT client.
//
// This package manages:
//   - Throttled, non-blocking connection attempts driven by the bridge loop
//   - Fire-and-forget publishing (no wait for acknowledgement)
//   - Last Will and Testament on the bridge status topic
//   - Subscriptions restored on every new connection
//   - Topic builders for the Home Assistant discovery layout
//
// # Connection model
//
// paho's automatic reconnect is disabled. The bridge loop calls Maintain on
// every pass; Maintain starts a connection attempt at most once per retry
// interval and reports the disconnected-to-connected edge so the caller can
// republish its retained documents.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, &mqtt.Will{Topic: topics.BridgeStatus(), Payload: "offline", QoS: 1, Retained: true}, "offline", 5*time.Second)
//	for {
//	    if client.Maintain(time.Now()) {
//	        // publish discovery
//	    }
//	    client.Publish(topic, payload, client.QoS(), true)
//	}
package mqtt
