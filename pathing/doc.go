// Package pathing multiplexes many logical listeners, each named by a
// path such as "/chat", over one underlying EdgeListener.
//
// Outgoing edges to paths on the same remote address share one physical
// edge. A new path edge is bound with a sys:pathing.create request over
// that edge; the callee announces its side to the owning Listener when
// the first data frame arrives. Handshaken edges that never carry data
// are closed by a periodic sweep.
//
// Frames on a physical edge start with a zero byte and a varint code:
// pathing requests, application rpc, path data and path close. Data and
// close frames carry the source and destination paths as varint length
// prefixed strings. A physical edge whose first frame has no zero lead
// byte comes from a peer that does not speak pathing: it becomes a Root
// path edge and every later frame on it is passed through unframed.
// Root to Root connections made here skip the handshake but still send
// tagged data frames; the peer binds its Root edge on the first one. If
// the peer answers untagged, the edge falls back to unframed payloads.
//
// Example:
//
//	pm := pathing.NewManager(udpListener, nil)
//	chat, err := pm.CreatePath("/chat")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chat.OnEdge(handleEdge)
//	chat.Start()
//	pm.Start()
package pathing
