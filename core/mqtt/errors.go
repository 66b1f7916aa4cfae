package mqtt

import "errors"

var (
	// ErrNotConnected is returned when publishing without a broker connection.
	ErrNotConnected = errors.New("mqtt client not connected")
	// ErrAckTimeout is returned when a driver did not acknowledge a route in time.
	ErrAckTimeout = errors.New("ack timeout")
)
