// Package limits provides centralized size constants and validation
// functions for edge payloads and the frames carried over them.
//
// # Size Hierarchy
//
//   - MaxDatagram (65507 bytes): the largest IPv4 UDP payload.
//   - MaxEdgePayload: MaxDatagram minus the 8 byte id header every UDP
//     edge datagram carries.
//   - MaxControlPayload (4096 bytes): control code plus the announce
//     dictionary.
//   - MaxPathLength (1024 bytes): path strings in pathing frames.
//   - MaxDiscoveryMessage (8192 bytes): multicast discovery datagrams.
//
// # Validation Functions
//
//	if err := limits.ValidateEdgePayload(payload); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
