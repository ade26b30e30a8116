// Package udp carries edges over a single UDP socket.
//
// Every datagram starts with two big-endian int32 ids, the recipient's
// local id for the edge and the sender's:
//
//	[4 bytes recipient][4 bytes sender][payload]
//
// A recipient of 0 asks the receiver to create a new edge. A negative
// recipient marks a control datagram addressed to the complement of the
// id; its payload is a 4 byte ControlCode optionally followed by a
// protobuf Struct of string values.
//
// An EdgeListener follows peers whose NAT mapping changes: a datagram for
// a known edge arriving from a new endpoint re-points the edge, and the
// peer is told how we see it with an EdgeDataAnnounce.
//
// Example:
//
//	opts := udp.NewOptions()
//	opts.Port = 4000
//	el, err := udp.NewEdgeListener(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	el.OnEdge(func(e transport.Edge) {
//	    e.Subscribe(handler)
//	})
//	if err := el.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer el.Stop()
package udp
