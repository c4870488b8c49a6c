// Package mqtt speaks the Home Assistant MQTT discovery protocol for the
// host agent.
//
// A session uses one broker connection for everything: the retained
// device discovery message, periodic sensor status, the availability
// heartbeat, and inbound command topics. Inbound publishes are reduced
// to their topic and pushed into a bounded [TopicQueue]; when the queue
// is full the newest topic is dropped rather than blocking the client.
//
// The broker client is Eclipse Paho v2's low-level [paho] package. The
// agent handles reconnects itself, one session per connection, so the
// autopaho connection manager is not used.
package mqtt
