// Package transport defines the edge abstraction of the overlay: an
// unreliable, bidirectional packet connection (Edge) between two nodes,
// the listeners that accept and create edges (EdgeListener), and the
// typed endpoint identifiers edges are addressed by (TransportAddress).
//
// # Addresses
//
// A TransportAddress has the form
//
//	brunet.<scheme>://<host>:<port>[/<path>...]
//
// with the simulation schemes using b.s://<id> and b.so://<id>. Parsing
// goes through a TAFactory backed by an LRU cache, so the package-level
// ParseTA returns the same pointer for the same string:
//
//	ta, err := transport.ParseTA("brunet.udp://10.0.0.1:4000")
//	other := transport.NewTA(transport.TATypeUDP, "10.0.0.1", 4000)
//	ta.Equal(other) // true
//
// # Edges
//
// Concrete edges embed BaseEdge, which provides:
//
//   - exactly once Close through an atomic compare and swap
//   - a close notification latch (FireOnce) that rejects late registrations
//   - a single replaceable data subscriber
//   - process unique edge numbers tracked by a Registry
//
// Send and ReceivedPacket fail with ErrEdgeClosed once the edge closed.
//
// # Listeners
//
// Every listener reports connection setup failures through its
// CreationCallback and never panics across that boundary:
//
//	el.CreateEdgeTo(ta, func(ok bool, e transport.Edge, err error) {
//	    if !ok {
//	        log.Printf("connect failed: %v", err)
//	        return
//	    }
//	    e.Subscribe(handler)
//	})
//
// FunctionEdgeListener and SimulationEdgeListener connect listeners that
// live in the same process. They are scoped by an explicit FunctionWorld
// or SimulationWorld so that tests can run independent networks side by
// side. WrapperEdgeListener decorates any listener.
//
// The UDP transport lives in package udp, path multiplexing in package
// pathing.
package transport
