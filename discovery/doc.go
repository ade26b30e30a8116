// Package discovery finds peer transport addresses through a shared
// medium, which solves the bootstrap problem of joining an overlay.
//
// Discovery is the timer-driven base: while BeginFindingTAs is in effect
// it calls a Seeker about every ten seconds, with up to half a period of
// jitter, and forwards the addresses found to a TAHandler.
//
// LocalDiscovery is a Seeker for the local network. Queries go to the
// multicast group 239.255.42.99:56123 and carry the querier's own TAs;
// each member of the same namespace replies to the querier with its TAs.
// Messages are protobuf Structs behind a four byte magic cookie, and a
// per-process instance id lets a node ignore its own queries.
//
// Example:
//
//	ld, err := discovery.NewLocalDiscovery(discovery.HandlerFuncs{
//		Local:  el.LocalTAs,
//		Remote: func(tas []*transport.TransportAddress) { connect(tas) },
//	}, discovery.LocalOptions{Namespace: "overlay"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ld.Close()
//	ld.BeginFindingTAs()
package discovery
