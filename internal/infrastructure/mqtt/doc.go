// Package mqtt publishes identity events to the platform's MQTT bus.
//
// The identity service is a publisher only. Each event kind gets its own
// topic under graylogic/identity/event/, so consumers can subscribe to the
// events they care about (for example logout_all, to drop cached sessions).
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and a bounded wait
//   - Last Will and Testament for offline detection
//
// # Security Considerations
//
//   - Event payloads carry user ids and emails, never tokens or passwords
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.IdentityEvent("login")
//	client.Publish(topic, payload, 1, false)
package mqtt
