package banyan

import (
	"context"
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/tagindex"
)

func openTestEngine(t *testing.T, cfg Config) (*Engine, *blockstore.Store) {
	t.Helper()
	bs, err := blockstore.Open(t.TempDir(), 128)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return New(bs, cfg), bs
}

func item(lamport uint64, tags ...string) LeafItem {
	ts := make(tagindex.TagSet, len(tags))
	for _, t := range tags {
		ts[tagindex.Tag(t)] = struct{}{}
	}
	return LeafItem{
		Key:     AxKey{Lamport: lamport, Micros: int64(lamport) * 1000, Tags: ts, AppId: "app"},
		Payload: []byte(fmt.Sprintf("payload-%d", lamport)),
	}
}

func collect(t *testing.T, e *Engine, root cid.Cid, offset uint64, q Query) []LeafEntry {
	t.Helper()
	var out []LeafEntry
	err := e.IterFrom(context.Background(), root, offset, q, func(entry LeafEntry) bool {
		out = append(out, entry)
		return true
	})
	require.NoError(t, err)
	return out
}

func TestAppendAndIterateRoundtrip(t *testing.T) {
	e, _ := openTestEngine(t, Config{MaxLeafCount: 2, MaxKeyBranches: 2, MaxSummaryBranches: 2})
	ctx := context.Background()

	var root *cid.Cid
	for i := uint64(0); i < 17; i++ {
		items := []LeafItem{item(i, "a")}
		newRoot, written, err := e.Append(ctx, root, items)
		require.NoError(t, err)
		assert.NotEmpty(t, written)
		root = &newRoot
	}

	entries := collect(t, e, *root, 0, AllQuery())
	require.Len(t, entries, 17)
	for i, ent := range entries {
		assert.Equal(t, uint64(i), ent.Offset)
		assert.Equal(t, uint64(i), ent.Key.Lamport)
		assert.Equal(t, []byte(fmt.Sprintf("payload-%d", i)), ent.Payload)
	}
}

func TestAppendInBatches(t *testing.T) {
	e, _ := openTestEngine(t, DefaultConfig())
	ctx := context.Background()

	root, _, err := e.Append(ctx, nil, []LeafItem{item(0, "a"), item(1, "a"), item(2, "a")})
	require.NoError(t, err)

	root2, _, err := e.Append(ctx, &root, []LeafItem{item(3, "a"), item(4, "a")})
	require.NoError(t, err)

	entries := collect(t, e, root2, 0, AllQuery())
	require.Len(t, entries, 5)
	for i, ent := range entries {
		assert.Equal(t, uint64(i), ent.Key.Lamport)
	}
}

func TestIterFromOffsetSkipsEarlierEntries(t *testing.T) {
	e, _ := openTestEngine(t, Config{MaxLeafCount: 3, MaxKeyBranches: 3, MaxSummaryBranches: 3})
	ctx := context.Background()

	items := make([]LeafItem, 0, 10)
	for i := uint64(0); i < 10; i++ {
		items = append(items, item(i, "a"))
	}
	root, _, err := e.Append(ctx, nil, items)
	require.NoError(t, err)

	entries := collect(t, e, root, 6, AllQuery())
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(6), entries[0].Offset)
	assert.Equal(t, uint64(9), entries[3].Offset)
}

func TestIterPrunesNonMatchingSubtrees(t *testing.T) {
	e, _ := openTestEngine(t, Config{MaxLeafCount: 2, MaxKeyBranches: 2, MaxSummaryBranches: 2})
	ctx := context.Background()

	var items []LeafItem
	for i := uint64(0); i < 8; i++ {
		tag := "even"
		if i%2 == 1 {
			tag = "odd"
		}
		items = append(items, item(i, tag))
	}
	root, _, err := e.Append(ctx, nil, items)
	require.NoError(t, err)

	q := Query{DNF: tagindex.Normalize(tagindex.TagExpr{Tag: "odd"})}
	entries := collect(t, e, root, 0, q)
	require.Len(t, entries, 4)
	for _, ent := range entries {
		assert.True(t, ent.Key.Lamport%2 == 1)
	}
}

func TestIterYieldFalseStopsEarly(t *testing.T) {
	e, _ := openTestEngine(t, Config{MaxLeafCount: 2, MaxKeyBranches: 2, MaxSummaryBranches: 2})
	ctx := context.Background()

	var items []LeafItem
	for i := uint64(0); i < 12; i++ {
		items = append(items, item(i, "a"))
	}
	root, _, err := e.Append(ctx, nil, items)
	require.NoError(t, err)

	var seen []uint64
	err = e.IterFrom(ctx, root, 0, AllQuery(), func(entry LeafEntry) bool {
		seen = append(seen, entry.Offset)
		return len(seen) < 3
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, seen)
}

func TestSealedReportsMaxLamport(t *testing.T) {
	e, _ := openTestEngine(t, Config{MaxLeafCount: 3, MaxKeyBranches: 3, MaxSummaryBranches: 3})
	ctx := context.Background()

	root, _, err := e.Append(ctx, nil, []LeafItem{item(0, "a"), item(1, "a"), item(2, "a"), item(3, "a")})
	require.NoError(t, err)

	hdr, err := e.Sealed(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), hdr.Lamport)
	assert.Equal(t, uint64(4), hdr.Count)
	assert.Equal(t, root, hdr.Root)
}
