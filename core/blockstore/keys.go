package blockstore

import (
	"strings"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

const blockPrefix = "/blocks/"

func dsKey(c cid.Cid) ds.Key {
	return ds.NewKey(blockPrefix + c.String())
}

func cidFromKeyString(key string) (cid.Cid, bool) {
	s := strings.TrimPrefix(key, blockPrefix)
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, false
	}
	return c, true
}

func queryAll() dsq.Query {
	return dsq.Query{Prefix: blockPrefix, KeysOnly: true}
}
