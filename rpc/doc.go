// Package rpc is a small request and reply layer over edges.
//
// Frames are protobuf ListValues. A request is
//
//	["req", id, "name.method", [args...]]
//
// and its reply is ["rep", id, true, result] or ["rep", id, false, message].
// Ids are random UUID strings. A Manager prepends its configured prefix
// to every frame it sends; whatever demultiplexes the edge strips that
// prefix before calling HandleData.
package rpc
