// Package limits provides centralized size limits for edge payloads and
// the frames layered on top of them.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP payload deliverable over IPv4
	MaxDatagram = 65507

	// UDPHeaderSize is the edge id header prepended to every UDP datagram
	UDPHeaderSize = 8

	// MaxEdgePayload is the largest payload a UDP edge can carry
	MaxEdgePayload = MaxDatagram - UDPHeaderSize

	// MaxControlPayload bounds control datagram bodies (code + dictionary)
	MaxControlPayload = 4096

	// MaxPathLength bounds path strings carried in pathing frames
	MaxPathLength = 1024

	// MaxDiscoveryMessage bounds multicast discovery datagrams
	MaxDiscoveryMessage = 8192
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateEdgePayload checks a payload against MaxEdgePayload. Empty
// payloads are valid edge packets.
func ValidateEdgePayload(payload []byte) error {
	if len(payload) > MaxEdgePayload {
		return fmt.Errorf("%w: edge payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxEdgePayload)
	}
	return nil
}

// ValidateControlPayload checks a control body against MaxControlPayload.
func ValidateControlPayload(payload []byte) error {
	return ValidateMessageSize(payload, MaxControlPayload)
}

// ValidatePath checks a path string against MaxPathLength.
func ValidatePath(path string) error {
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: path length %d exceeds limit %d", ErrMessageTooLarge, len(path), MaxPathLength)
	}
	return nil
}

// ValidateDiscoveryMessage checks a discovery datagram against MaxDiscoveryMessage.
func ValidateDiscoveryMessage(message []byte) error {
	return ValidateMessageSize(message, MaxDiscoveryMessage)
}
