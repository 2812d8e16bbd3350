package blockstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, 128)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)

	got, err := s.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c1, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	c2, err := s.Put(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestGetMissingFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bogus, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	_, err = s.ds.Get(ctx, dsKey(bogus))
	require.NoError(t, err)

	other, err := cidForBytes([]byte("not stored"))
	require.NoError(t, err)
	_, err = s.Get(ctx, other)
	assert.Error(t, err)
}

func TestAliasAndGC(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.Put(ctx, []byte("pinned"))
	require.NoError(t, err)
	require.NoError(t, s.Alias("streams/a", &c))

	orphan, err := s.Put(ctx, []byte("orphan"))
	require.NoError(t, err)

	n, err := s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, c)
	assert.NoError(t, err)
	_, err = s.Get(ctx, orphan)
	assert.Error(t, err)
}

func TestTempPinRetainsUntilReleased(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.Put(ctx, []byte("temp"))
	require.NoError(t, err)

	h := s.TempPin()
	h.Extend(c)

	n, err := s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = s.Get(ctx, c)
	assert.NoError(t, err)

	h.Release()
	n, err = s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGCIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, []byte("gone"))
	require.NoError(t, err)

	n1, err := s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)

	n2, err := s.GC(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n2)
}
