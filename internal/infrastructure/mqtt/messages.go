package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound messages at 1 MiB.
const maxPayloadSize = 1 << 20

// errTimeout is wrapped into publish and subscribe failures that never
// got a broker acknowledgement.
var errTimeout = fmt.Errorf("no broker acknowledgement")

// wait blocks on a paho token for at most d.
func wait(tok pahomqtt.Token, d time.Duration) error {
	if !tok.WaitTimeout(d) {
		return fmt.Errorf("%w after %v", errTimeout, d)
	}
	return tok.Error()
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload and, for QoS 1 and 2, waits for the broker to
// acknowledge it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(c.paho.Publish(topic, qos, retained, payload), publishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %T: %w", ErrPublishFailed, v, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}

// Subscribe routes messages matching topic (which may use + and #) to
// handler. The subscription survives reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(c.paho.Subscribe(topic, qos, c.deliver(handler)), publishTimeout); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// deliver adapts a MessageHandler to paho, logging errors and panics
// instead of letting them reach paho's router.
func (c *Client) deliver(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger().Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.logger().Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
