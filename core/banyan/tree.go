package banyan

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/pkg/utils"
)

// Engine implements append and traversal over a block store, per the
// balanced, content-addressed tree of spec.md §4.2.
type Engine struct {
	bs  *blockstore.Store
	cfg Config
}

// New binds an Engine to a block store with the given fan-out config.
func New(bs *blockstore.Store, cfg Config) *Engine {
	return &Engine{bs: bs, cfg: cfg}
}

// pathEntry is one ancestor on the rightmost path from the root down to
// (but not including) the rightmost leaf.
type pathEntry struct {
	node  *diskNode
	level int
}

// loadRightPath walks from root down the rightmost child at each level,
// returning the ancestor branches (root first) and the rightmost leaf (nil
// if the tree is empty).
func (e *Engine) loadRightPath(ctx context.Context, root *cid.Cid) ([]pathEntry, *diskNode, error) {
	if root == nil {
		return nil, nil, nil
	}
	var path []pathEntry
	cur := *root
	for {
		n, err := loadNode(ctx, e.bs, cur)
		if err != nil {
			return nil, nil, err
		}
		if n.Kind == kindLeaf {
			return path, n, nil
		}
		path = append(path, pathEntry{node: n, level: n.Level})
		if len(n.Children) == 0 {
			return path, nil, utils.New(utils.KindInternal, "empty branch node")
		}
		cur = n.Children[len(n.Children)-1].CID
	}
}

// chunkLeaf splits items into groups of at most size n (n must be > 0).
func chunkLeaf(items []LeafItem, n int) [][]LeafItem {
	var out [][]LeafItem
	for len(items) > 0 {
		k := n
		if k > len(items) {
			k = len(items)
		}
		out = append(out, items[:k])
		items = items[k:]
	}
	return out
}

func chunkRefs(refs []ChildRef, n int) [][]ChildRef {
	var out [][]ChildRef
	for len(refs) > 0 {
		k := n
		if k > len(refs) {
			k = len(refs)
		}
		out = append(out, refs[:k])
		refs = refs[k:]
	}
	return out
}

func keysOf(items []LeafItem) []AxKey {
	out := make([]AxKey, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

func summariesOf(refs []ChildRef) []AxSummary {
	out := make([]AxSummary, len(refs))
	for i, r := range refs {
		out[i] = fromWireSummary(r.Summary)
	}
	return out
}

func countOf(refs []ChildRef) uint64 {
	var n uint64
	for _, r := range refs {
		n += r.Count
	}
	return n
}

// Append extends the tree at root (nil for a fresh stream) with items, in
// order. Keys must already be strictly increasing in lamport (streamlog's
// responsibility to enforce). Returns the new root and every newly written
// block CID, each written exactly once (spec.md §4.2).
func (e *Engine) Append(ctx context.Context, root *cid.Cid, items []LeafItem) (cid.Cid, []cid.Cid, error) {
	if len(items) == 0 {
		if root == nil {
			return cid.Undef, nil, utils.New(utils.KindInvalidInput, "append: empty tree, no items")
		}
		return *root, nil, nil
	}

	path, rightLeaf, err := e.loadRightPath(ctx, root)
	if err != nil {
		return cid.Undef, nil, err
	}

	var written []cid.Cid
	pending := items
	if rightLeaf != nil {
		pending = append(append([]LeafItem(nil), rightLeaf.leafItems()...), items...)
	}

	leafGroups := chunkLeaf(pending, e.cfg.MaxLeafCount)
	carry := make([]ChildRef, 0, len(leafGroups))
	for _, g := range leafGroups {
		data, err := encodeLeaf(g)
		if err != nil {
			return cid.Undef, nil, utils.Wrapk(utils.KindInternal, "encode leaf", err)
		}
		c, err := e.bs.Put(ctx, data)
		if err != nil {
			return cid.Undef, nil, err
		}
		written = append(written, c)
		carry = append(carry, ChildRef{
			CID:     c,
			Leaf:    true,
			Count:   uint64(len(g)),
			Summary: toWireSummary(summaryOf(keysOf(g))),
		})
	}

	maxBranches := e.cfg.maxBranches(0)
	level := 1
	for {
		pathIdx := len(path) - level
		var oldChildren []ChildRef
		if pathIdx >= 0 {
			siblings := path[pathIdx].node.Children
			if len(siblings) > 0 {
				oldChildren = siblings[:len(siblings)-1]
			}
		}
		combined := append(append([]ChildRef(nil), oldChildren...), carry...)

		if len(combined) == 1 {
			if pathIdx < 0 {
				return combined[0].CID, written, nil
			}
			carry = combined
			level++
			continue
		}

		groups := chunkRefs(combined, maxBranches)
		nextCarry := make([]ChildRef, 0, len(groups))
		for _, g := range groups {
			data, err := encodeBranch(level, g)
			if err != nil {
				return cid.Undef, nil, utils.Wrapk(utils.KindInternal, "encode branch", err)
			}
			c, err := e.bs.Put(ctx, data)
			if err != nil {
				return cid.Undef, nil, err
			}
			written = append(written, c)
			nextCarry = append(nextCarry, ChildRef{
				CID:     c,
				Leaf:    false,
				Count:   countOf(g),
				Summary: toWireSummary(mergeSummaries(summariesOf(g))),
			})
		}

		if pathIdx < 0 && len(nextCarry) == 1 {
			return nextCarry[0].CID, written, nil
		}
		carry = nextCarry
		level++
	}
}
