package banyan

import (
	"context"

	"github.com/ipfs/go-cid"

	"github.com/actyx-go/ax/pkg/utils"
)

// Yield receives one matching entry during IterFrom; returning false stops
// iteration early.
type Yield func(entry LeafEntry) (cont bool)

// IterFrom walks the tree rooted at root in offset order starting at
// offset, calling yield for every entry whose key matches q. Branches whose
// summary cannot possibly match q are skipped without being fetched
// (spec.md §4.5); only fetched leaves are matched exactly.
func (e *Engine) IterFrom(ctx context.Context, root cid.Cid, offset uint64, q Query, yield Yield) error {
	_, err := e.walk(ctx, root, 0, offset, q, yield)
	return err
}

// walk returns (cont, err): cont is false once yield asked to stop, so
// callers up the recursion can unwind without visiting further siblings.
func (e *Engine) walk(ctx context.Context, c cid.Cid, base uint64, from uint64, q Query, yield Yield) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n, err := loadNode(ctx, e.bs, c)
	if err != nil {
		return false, err
	}

	if n.Kind == kindLeaf {
		for i, wi := range n.Items {
			off := base + uint64(i)
			if off < from {
				continue
			}
			k := fromWireKey(wi.Key)
			if !q.matchesKey(k) {
				continue
			}
			if !yield(LeafEntry{Offset: off, Key: k, Payload: wi.Payload}) {
				return false, nil
			}
		}
		return true, nil
	}

	pos := base
	for _, child := range n.Children {
		count := child.Count
		if pos+count <= from {
			pos += count
			continue
		}
		if !q.matchesSummary(fromWireSummary(child.Summary)) {
			pos += count
			continue
		}
		cont, err := e.walk(ctx, child.CID, pos, from, q, yield)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
		pos += count
	}
	return true, nil
}

// Sealed returns the header (root, highest lamport stamped so far, total
// item count) for the given root.
func (e *Engine) Sealed(ctx context.Context, root cid.Cid) (Header, error) {
	r := root
	_, leaf, err := e.loadRightPath(ctx, &r)
	if err != nil {
		return Header{}, err
	}
	if leaf == nil || len(leaf.Items) == 0 {
		return Header{}, utils.New(utils.KindInternal, "sealed: empty tree")
	}
	last := leaf.Items[len(leaf.Items)-1]

	top, err := loadNode(ctx, e.bs, root)
	if err != nil {
		return Header{}, err
	}
	var count uint64
	if top.Kind == kindLeaf {
		count = uint64(len(top.Items))
	} else {
		count = countOf(top.Children)
	}

	return Header{Root: root, Lamport: last.Key.Lamport, Count: count}, nil
}
