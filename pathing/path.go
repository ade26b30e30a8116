package pathing

import (
	"strings"

	"github.com/opd-ai/edgenet/transport"
)

// Root is the default path, used by peers that do not speak pathing.
const Root = "/"

// normalize gives p exactly one leading slash.
func normalize(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}

// JoinPath appends path to ta. Joining Root returns ta unchanged.
func JoinPath(ta *transport.TransportAddress, path string) *transport.TransportAddress {
	return transport.WithPath(ta, normalize(path))
}

// SplitPath returns the physical address and the path carried by ta. An
// address without a path yields Root. Runs of slashes before the path
// collapse, so "brunet.udp://127.0.0.1:9//Path" splits to "/Path".
func SplitPath(ta *transport.TransportAddress) (*transport.TransportAddress, string) {
	p := ta.Path()
	if p == "" {
		return ta, Root
	}
	return transport.WithPath(ta, ""), p
}
