// Package main provides edgecat, a small netcat-style tool for edgenet edges.
//
// # Overview
//
// edgecat opens a UDP edge listener with a path manager on top of it and
// copies payloads between edges and the terminal. Each payload is one
// datagram; nothing is retransmitted or reordered.
//
// # Usage
//
// Accept edges on the root path and echo everything back:
//
//	edgecat listen --echo
//
// Accept edges on a named path, on a fixed port:
//
//	EDGENET_UDP_PORT=4000 edgecat listen --path /chat
//
// Send each line of stdin to a peer and print the replies:
//
//	printf 'hello\nworld\n' | edgecat send brunet.udp://10.0.0.2:4000/chat
//
// Look for other edgecat nodes on the LAN for thirty seconds:
//
//	edgecat discover --duration 30s
//
// # Configuration
//
// Settings are read from edgecat.yaml in the working directory or in
// ~/.edgenet, from the file named by --config or EDGENET_CONFIG, and from
// EDGENET_* environment variables (EDGENET_UDP_PORT, EDGENET_LOG_LEVEL,
// EDGENET_DISCOVERY_NAMESPACE and so on). Flags win over everything else.
//
//	log:
//	  level: info          # trace, debug, info, warn, error
//	  file: ""             # rotated with lumberjack when set
//	  max_size_mb: 50
//	udp:
//	  port: 0              # 0 picks a free port
//	  bind_ip: ""
//	  advertise: []        # overrides the interface scan
//	  send_queue: 512
//	discovery:
//	  namespace: edgenet
//	  group: 239.255.42.99:56123
//	  period: 10s
//	  query_only: false
//	metrics_addr: ""       # e.g. 127.0.0.1:9100
//
// Global flags:
//   - --config: configuration file
//   - --log-level: overrides log.level
//   - --log-file: overrides log.file
//   - --metrics-addr: serve Prometheus metrics at /metrics
package main
