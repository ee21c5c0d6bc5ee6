package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps outgoing messages at 1MB, in line with broker defaults.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// QoS 1 is the norm for scan results: a duplicate result on the scanner's
// display is harmless, a lost one leaves the driver waiting. Retain only
// state topics (system status), never results or events.
//
// Parameters:
//   - topic: Full topic path, no wildcards
//   - payload: Message body, usually JSON
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps it for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTopic, ErrInvalidQoS, or a wrapped ErrPublishFailed
//
// Example:
//
//	topic := mqtt.Topics{}.DeviceResult("AABBCCDDEEFF")
//	err := client.Publish(topic, []byte(`{"status":"success"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return wait(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// PublishJSON marshals v and publishes it with the configured default QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
