package main

import (
	"github.com/ipfs/go-cid"

	"github.com/actyx-go/ax/core/offset"
)

// zeroNode is used when opening a streamlog.Table purely for read-only
// inspection; the Table only uses its "self" NodeId to mint lamport
// timestamps for new publishes, which trees dump/explore never does.
func zeroNode() offset.NodeId {
	return offset.NodeId{}
}

func parseCID(s string) (cid.Cid, error) {
	return cid.Decode(s)
}
