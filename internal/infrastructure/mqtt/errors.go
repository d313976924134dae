package mqtt

import "errors"

var (
	ErrNotConnected     = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
)
